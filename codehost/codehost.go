// Package codehost models a source hosting site in one table: accounts,
// repositories, issues, pull requests, stars and forks.
//
// Issues and stars live in their repo's item collection, with the repo item
// sorting between them, so one query fetches a repo together with either
// its newest issues or its stars. Pull requests get their own partitions
// and join the repo through GSI1; forks join their parent through GSI2;
// repos join their owning account through GSI3.
//
// Issue and pull request numbers come from a counter on the repo item.
// A number is minted first and the child written second, so a failure in
// between leaves a gap in the numbering but never a duplicate.
package codehost

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/singletable/store"
)

var (
	ErrRepoExists          = errors.New("codehost: repository already exists")
	ErrRepoNotFound        = errors.New("codehost: repository not found")
	ErrIssueNotFound       = errors.New("codehost: issue not found")
	ErrPullRequestNotFound = errors.New("codehost: pull request not found")
	ErrAlreadyStarred      = errors.New("codehost: already starred")
	ErrNotStarred          = errors.New("codehost: not starred")
	ErrAccountExists       = errors.New("codehost: account name already taken")
	ErrAccountNotFound     = errors.New("codehost: account not found")
	ErrAlreadyMember       = errors.New("codehost: already a member")
)

// Service reads and writes the code hosting model.
type Service struct {
	store *store.Store
}

// New creates a Service over a store whose table has PK and SK keys and
// the GSI1, GSI2 and GSI3 indexes.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

func (s *Service) get(ctx context.Context, k store.Key, notFound error, out any) error {
	item, err := s.store.Get(ctx, k)
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	if err != nil {
		return err
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("codehost: unmarshal: %w", err)
	}
	return nil
}

// queryLimit turns a caller's result cap into a request limit that also
// covers the parent item. Zero or less reads the whole collection.
func queryLimit(n int) int32 {
	if n <= 0 {
		return 0
	}
	return int32(n + 1)
}
