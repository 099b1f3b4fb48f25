package stream_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/singletable/session"
	"github.com/jacentio/singletable/stream"
)

var ttlIdentity = &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "dynamodb.amazonaws.com"}

func sessionImage(token, username string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"session_token": events.NewStringAttribute(token),
		"username":      events.NewStringAttribute(username),
		"created_at":    events.NewStringAttribute("2024-03-01T12:00:00Z"),
		"expires_at":    events.NewStringAttribute("2024-03-08T12:00:00Z"),
		"TTL":           events.NewNumberAttribute("1709899200"),
	}
}

func record(seq, eventName string, identity *events.DynamoDBUserIdentity, old map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:      "event-" + seq,
		EventName:    eventName,
		UserIdentity: identity,
		Change: events.DynamoDBStreamRecord{
			SequenceNumber: seq,
			OldImage:       old,
			StreamViewType: "OLD_IMAGE",
		},
	}
}

func collect(sessions *[]session.Session) stream.ExpiredFunc {
	return func(_ context.Context, s session.Session) error {
		*sessions = append(*sessions, s)
		return nil
	}
}

func TestNewHandler(t *testing.T) {
	// Test with nil callback and logger (should not panic)
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("1", "REMOVE", ttlIdentity, sessionImage("tok", "alice")),
	}}
	if err := h.HandleExpirations(context.Background(), event); err != nil {
		t.Errorf("expected no error without a callback, got %v", err)
	}
}

func TestHandleExpirations_FiltersRecords(t *testing.T) {
	userDelete := &events.DynamoDBUserIdentity{Type: "User", PrincipalID: "arn:aws:iam::123456789012:user/admin"}
	otherService := &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "lambda.amazonaws.com"}

	tests := []struct {
		name   string
		record events.DynamoDBEventRecord
		want   int
	}{
		{"ttl delete", record("1", "REMOVE", ttlIdentity, sessionImage("tok", "alice")), 1},
		{"user delete", record("2", "REMOVE", nil, sessionImage("tok", "alice")), 0},
		{"user identity", record("3", "REMOVE", userDelete, sessionImage("tok", "alice")), 0},
		{"other service", record("4", "REMOVE", otherService, sessionImage("tok", "alice")), 0},
		{"insert", record("5", "INSERT", nil, nil), 0},
		{"modify", record("6", "MODIFY", nil, sessionImage("tok", "alice")), 0},
		{"ttl delete without old image", record("7", "REMOVE", ttlIdentity, nil), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []session.Session
			h := stream.NewHandler(collect(&got), nil)
			event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{tt.record}}
			if err := h.HandleExpirations(context.Background(), event); err != nil {
				t.Fatalf("HandleExpirations failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d expirations, got %d", tt.want, len(got))
			}
		})
	}
}

func TestHandleExpirations_DecodesSession(t *testing.T) {
	var got []session.Session
	h := stream.NewHandler(collect(&got), nil)
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("1", "REMOVE", ttlIdentity, sessionImage("tok-1", "alice")),
		record("2", "REMOVE", ttlIdentity, sessionImage("tok-2", "bob")),
	}}
	if err := h.HandleExpirations(context.Background(), event); err != nil {
		t.Fatalf("HandleExpirations failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 expirations, got %d", len(got))
	}
	s := got[0]
	if s.Token != "tok-1" || s.Username != "alice" || s.TTL != 1709899200 {
		t.Errorf("unexpected session: %+v", s)
	}
	if s.ExpiresAt.Unix() != s.TTL {
		t.Errorf("expected expires_at to match TTL, got %v", s.ExpiresAt)
	}
}

func TestHandleExpirations_StopsOnError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	calls := 0
	boom := errors.New("downstream unavailable")
	h := stream.NewHandler(func(context.Context, session.Session) error {
		calls++
		return boom
	}, logger)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("1", "REMOVE", ttlIdentity, sessionImage("tok-1", "alice")),
		record("2", "REMOVE", ttlIdentity, sessionImage("tok-2", "bob")),
	}}
	err := h.HandleExpirations(context.Background(), event)
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected processing to stop after first failure, got %d calls", calls)
	}
	if !strings.Contains(buf.String(), `"eventID":"event-1"`) {
		t.Errorf("expected failure log to name the event, got %s", buf.String())
	}
}

func TestHandleExpirationsBatch(t *testing.T) {
	h := stream.NewHandler(func(_ context.Context, s session.Session) error {
		if s.Username == "bob" {
			return errors.New("rejected")
		}
		return nil
	}, nil)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("100", "REMOVE", ttlIdentity, sessionImage("tok-1", "alice")),
		record("200", "REMOVE", ttlIdentity, sessionImage("tok-2", "bob")),
		record("300", "REMOVE", ttlIdentity, sessionImage("tok-3", "carol")),
	}}
	resp, err := h.HandleExpirationsBatch(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleExpirationsBatch failed: %v", err)
	}
	var ids []string
	for _, f := range resp.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	if len(ids) != 2 || ids[0] != "200" || ids[1] != "300" {
		t.Errorf("expected failures [200 300], got %v", ids)
	}

	resp, err = h.HandleExpirationsBatch(context.Background(), events.DynamoDBEvent{Records: event.Records[:1]})
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Errorf("expected clean batch, got %v, %v", resp.BatchItemFailures, err)
	}
}

func TestHandleExpirations_MalformedImage(t *testing.T) {
	h := stream.NewHandler(nil, nil)
	image := sessionImage("tok", "alice")
	image["TTL"] = events.NewStringAttribute("soon")

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record("1", "REMOVE", ttlIdentity, image),
	}}
	if err := h.HandleExpirations(context.Background(), event); err == nil {
		t.Error("expected error for a TTL that is not a number")
	}
}

func TestIsTTLDelete(t *testing.T) {
	r := record("1", "REMOVE", ttlIdentity, nil)
	if !stream.IsTTLDelete(&r) {
		t.Error("expected TTL delete")
	}
	r.UserIdentity = nil
	if stream.IsTTLDelete(&r) {
		t.Error("expected caller delete")
	}
}
