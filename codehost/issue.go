package codehost

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/jacentio/singletable/internal/valid"
	"github.com/jacentio/singletable/store"
)

// nextNumber mints the repo's next issue or pull request number.
func (s *Service) nextNumber(ctx context.Context, ref RepoRef) (int64, error) {
	n, err := s.store.Increment(ctx, repoKey(ref), counterAttribute, 1)
	if errors.Is(err, store.ErrConditionFailed) {
		return 0, ErrRepoNotFound
	}
	return n, err
}

// OpenIssue creates an issue under the repo's next number.
func (s *Service) OpenIssue(ctx context.Context, ref RepoRef, sub Submission) (*Issue, error) {
	if err := valid.Struct(sub); err != nil {
		return nil, err
	}
	n, err := s.nextNumber(ctx, ref)
	if err != nil {
		return nil, err
	}

	issue := Issue{
		Owner:     ref.Owner,
		Repo:      ref.Name,
		Number:    n,
		Title:     sub.Title,
		Body:      sub.Body,
		Creator:   sub.Creator,
		Status:    StatusOpen,
		CreatedAt: s.store.Now(),
	}
	k, err := issueKey(ref, n)
	if err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(issueItem{
		keys:  keys{PK: k.Partition, SK: k.Sort, Type: typeIssue},
		Issue: issue,
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: marshal issue: %w", err)
	}
	if err := s.store.Put(ctx, item, store.IfNotExists()); err != nil {
		return nil, fmt.Errorf("codehost: write issue %s#%d: %w", ref, n, err)
	}
	return &issue, nil
}

// OpenPullRequest creates a pull request under the repo's next number.
func (s *Service) OpenPullRequest(ctx context.Context, ref RepoRef, sub Submission) (*PullRequest, error) {
	if err := valid.Struct(sub); err != nil {
		return nil, err
	}
	n, err := s.nextNumber(ctx, ref)
	if err != nil {
		return nil, err
	}

	pr := PullRequest{
		Owner:     ref.Owner,
		Repo:      ref.Name,
		Number:    n,
		Title:     sub.Title,
		Creator:   sub.Creator,
		Status:    StatusOpen,
		CreatedAt: s.store.Now(),
	}
	k, err := pullRequestKey(ref, n)
	if err != nil {
		return nil, err
	}
	gsk, err := tagPR.Ordinal(n, ordinalWidth)
	if err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(pullRequestItem{
		keys:        keys{PK: k.Partition, SK: k.Sort, Type: typePullRequest},
		gsi1:        gsi1{GSI1PK: repoKey(ref).Partition, GSI1SK: gsk},
		PullRequest: pr,
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: marshal pull request: %w", err)
	}
	if err := s.store.Put(ctx, item, store.IfNotExists()); err != nil {
		return nil, fmt.Errorf("codehost: write pull request %s#%d: %w", ref, n, err)
	}
	return &pr, nil
}

// GetIssue returns one issue.
func (s *Service) GetIssue(ctx context.Context, ref RepoRef, number int64) (*Issue, error) {
	k, err := issueKey(ref, number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	var issue Issue
	if err := s.get(ctx, k, ErrIssueNotFound, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetPullRequest returns one pull request.
func (s *Service) GetPullRequest(ctx context.Context, ref RepoRef, number int64) (*PullRequest, error) {
	k, err := pullRequestKey(ref, number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	var pr PullRequest
	if err := s.get(ctx, k, ErrPullRequestNotFound, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// SetIssueStatus opens or closes an existing issue.
func (s *Service) SetIssueStatus(ctx context.Context, ref RepoRef, number int64, status string) error {
	if err := valid.Var("status", status, "oneof="+StatusOpen+" "+StatusClosed); err != nil {
		return err
	}
	k, err := issueKey(ref, number)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	_, err = s.store.Update(ctx, k, expression.Set(expression.Name("Status"), expression.Value(status)), store.IfExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrIssueNotFound
	}
	return err
}

// SetPullRequestStatus changes the status of an existing pull request.
// A merged pull request cannot change status again.
func (s *Service) SetPullRequestStatus(ctx context.Context, ref RepoRef, number int64, status string) error {
	if err := valid.Var("status", status, "oneof="+StatusOpen+" "+StatusClosed+" "+StatusMerged); err != nil {
		return err
	}
	k, err := pullRequestKey(ref, number)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	notMerged := expression.Name("Status").NotEqual(expression.Value(StatusMerged))
	_, err = s.store.Update(ctx, k, expression.Set(expression.Name("Status"), expression.Value(status)),
		store.IfExists(), store.If(notMerged))
	if errors.Is(err, store.ErrConditionFailed) {
		if _, gerr := s.GetPullRequest(ctx, ref, number); gerr != nil {
			return gerr
		}
		return fmt.Errorf("codehost: pull request %s#%d already merged: %w", ref, number, err)
	}
	return err
}

// RepoAndIssues returns a repo and up to limit of its issues, highest
// number first. A limit of zero or less returns every issue.
func (s *Service) RepoAndIssues(ctx context.Context, ref RepoRef, limit int) (*Repo, []Issue, error) {
	k := repoKey(ref)
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition:  k.Partition,
		Range:      store.AtMost(k.Sort),
		Descending: true,
		Limit:      queryLimit(limit),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		repo   *Repo
		issues []Issue
	)
	for _, item := range page.Items {
		switch itemType(item) {
		case typeRepo:
			repo = new(Repo)
			if err := attributevalue.UnmarshalMap(item, repo); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal repo: %w", err)
			}
		case typeIssue:
			var is Issue
			if err := attributevalue.UnmarshalMap(item, &is); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal issue: %w", err)
			}
			issues = append(issues, is)
		}
	}
	if repo == nil {
		return nil, nil, ErrRepoNotFound
	}
	return repo, issues, nil
}

// RecentIssues returns the repo's n highest numbered issues.
func (s *Service) RecentIssues(ctx context.Context, ref RepoRef, n int) ([]Issue, error) {
	if err := valid.Var("n", n, "min=1,max=1000"); err != nil {
		return nil, err
	}
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition:  repoKey(ref).Partition,
		Range:      store.Prefix(tagIssue.Prefix()),
		Descending: true,
		Limit:      int32(n),
	})
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := attributevalue.UnmarshalListOfMaps(page.Items, &issues); err != nil {
		return nil, fmt.Errorf("codehost: unmarshal issues: %w", err)
	}
	return issues, nil
}

// IssuesByStatus returns the repo's issues with the given status, highest
// number first. Issues written without a status count as open. The filter
// runs after the read, so every issue in the repo is read and billed.
func (s *Service) IssuesByStatus(ctx context.Context, ref RepoRef, status string) ([]Issue, error) {
	if err := valid.Var("status", status, "oneof="+StatusOpen+" "+StatusClosed); err != nil {
		return nil, err
	}
	name := expression.Name("Status")
	filter := name.Equal(expression.Value(status))
	if status == StatusOpen {
		filter = expression.Or(expression.AttributeNotExists(name), filter)
	}

	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition:  repoKey(ref).Partition,
		Range:      store.Prefix(tagIssue.Prefix()),
		Descending: true,
		Filter:     filter,
	})
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := attributevalue.UnmarshalListOfMaps(page.Items, &issues); err != nil {
		return nil, fmt.Errorf("codehost: unmarshal issues: %w", err)
	}
	return issues, nil
}

// RepoAndPullRequests returns a repo and up to limit of its pull requests,
// highest number first. A limit of zero or less returns every pull request.
func (s *Service) RepoAndPullRequests(ctx context.Context, ref RepoRef, limit int) (*Repo, []PullRequest, error) {
	page, err := s.store.QueryIndex(ctx, store.IndexQuery{
		Index:      GSI1,
		Partition:  repoKey(ref).Partition,
		Descending: true,
		Limit:      queryLimit(limit),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		repo *Repo
		prs  []PullRequest
	)
	for _, item := range page.Items {
		switch itemType(item) {
		case typeRepo:
			repo = new(Repo)
			if err := attributevalue.UnmarshalMap(item, repo); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal repo: %w", err)
			}
		case typePullRequest:
			var pr PullRequest
			if err := attributevalue.UnmarshalMap(item, &pr); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal pull request: %w", err)
			}
			prs = append(prs, pr)
		}
	}
	if repo == nil {
		return nil, nil, ErrRepoNotFound
	}
	return repo, prs, nil
}
