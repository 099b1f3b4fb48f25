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

func newRepoItem(r Repo, parent *RepoRef) (store.Item, error) {
	k := repoKey(r.Ref())
	item := repoItem{
		keys: keys{PK: k.Partition, SK: k.Sort, Type: typeRepo},
		gsi1: gsi1{GSI1PK: k.Partition, GSI1SK: k.Sort},
		gsi2: gsi2{GSI2PK: k.Partition, GSI2SK: tagRepo.Key(r.Name)},
		gsi3: gsi3{GSI3PK: tagAccount.Key(r.Owner), GSI3SK: createdKey(r.CreatedAt)},
		Repo: r,
	}
	if parent != nil {
		item.gsi2 = gsi2{
			GSI2PK: repoKey(*parent).Partition,
			GSI2SK: tagFork.Key(r.Owner),
		}
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("codehost: marshal repo: %w", err)
	}
	return av, nil
}

// CreateRepo creates a repository owned by an existing account.
func (s *Service) CreateRepo(ctx context.Context, ref RepoRef, description string) (*Repo, error) {
	if err := valid.Struct(ref); err != nil {
		return nil, err
	}
	r := Repo{
		Owner:       ref.Owner,
		Name:        ref.Name,
		Description: description,
		CreatedAt:   s.store.Now(),
	}
	item, err := newRepoItem(r, nil)
	if err != nil {
		return nil, err
	}

	err = s.store.Transact(ctx,
		store.CheckOp(accountKey(ref.Owner), store.IfExists()),
		store.PutOp(item, store.IfNotExists()),
	)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		switch {
		case cerr.Failed(0):
			return nil, ErrAccountNotFound
		case cerr.Failed(1):
			return nil, ErrRepoExists
		}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRepo returns a repository with its current counters.
func (s *Service) GetRepo(ctx context.Context, ref RepoRef) (*Repo, error) {
	var r Repo
	if err := s.get(ctx, repoKey(ref), ErrRepoNotFound, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Star records that username starred the repo and bumps its star count.
func (s *Service) Star(ctx context.Context, ref RepoRef, username string) error {
	if err := valid.Var("username", username, "required"); err != nil {
		return err
	}
	k := starKey(ref, username)
	item, err := attributevalue.MarshalMap(starItem{
		keys: keys{PK: k.Partition, SK: k.Sort, Type: typeStar},
		Star: Star{Owner: ref.Owner, Repo: ref.Name, Username: username, StarredAt: s.store.Now()},
	})
	if err != nil {
		return fmt.Errorf("codehost: marshal star: %w", err)
	}

	err = s.store.Transact(ctx,
		store.PutOp(item, store.IfNotExists()),
		store.UpdateOp(repoKey(ref), expression.Add(expression.Name(starsAttribute), expression.Value(1)), store.IfExists()),
	)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		switch {
		case cerr.Failed(0):
			return ErrAlreadyStarred
		case cerr.Failed(1):
			return ErrRepoNotFound
		}
	}
	return err
}

// Unstar removes a star and decrements the repo's star count.
func (s *Service) Unstar(ctx context.Context, ref RepoRef, username string) error {
	err := s.store.Transact(ctx,
		store.DeleteOp(starKey(ref, username), store.IfExists()),
		store.UpdateOp(repoKey(ref), expression.Add(expression.Name(starsAttribute), expression.Value(-1)), store.IfExists()),
	)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		switch {
		case cerr.Failed(0):
			return ErrNotStarred
		case cerr.Failed(1):
			return ErrRepoNotFound
		}
	}
	return err
}

// Fork copies parent into the account named owner and bumps the parent's
// fork count. The fork keeps the parent's name.
func (s *Service) Fork(ctx context.Context, parent RepoRef, owner string) (*Repo, error) {
	if err := valid.Struct(parent); err != nil {
		return nil, err
	}
	if err := valid.Var("owner", owner, "required,max=100"); err != nil {
		return nil, err
	}
	if owner == parent.Owner {
		return nil, fmt.Errorf("%w: cannot fork %s into its own account", store.ErrInvalidInput, parent)
	}

	fork := Repo{
		Owner:       owner,
		Name:        parent.Name,
		CreatedAt:   s.store.Now(),
		ParentOwner: parent.Owner,
	}
	item, err := newRepoItem(fork, &parent)
	if err != nil {
		return nil, err
	}

	err = s.store.Transact(ctx,
		store.UpdateOp(repoKey(parent), expression.Add(expression.Name(forksAttribute), expression.Value(1)), store.IfExists()),
		store.CheckOp(accountKey(owner), store.IfExists()),
		store.PutOp(item, store.IfNotExists()),
	)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		switch {
		case cerr.Failed(0):
			return nil, ErrRepoNotFound
		case cerr.Failed(1):
			return nil, ErrAccountNotFound
		case cerr.Failed(2):
			return nil, ErrRepoExists
		}
	}
	if err != nil {
		return nil, err
	}
	return &fork, nil
}

// RepoAndStars returns a repo and every star on it.
func (s *Service) RepoAndStars(ctx context.Context, ref RepoRef) (*Repo, []Star, error) {
	k := repoKey(ref)
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition: k.Partition,
		Range:     store.AtLeast(k.Sort),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		repo  *Repo
		stars []Star
	)
	for _, item := range page.Items {
		switch itemType(item) {
		case typeRepo:
			repo = new(Repo)
			if err := attributevalue.UnmarshalMap(item, repo); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal repo: %w", err)
			}
		case typeStar:
			var st Star
			if err := attributevalue.UnmarshalMap(item, &st); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal star: %w", err)
			}
			stars = append(stars, st)
		}
	}
	if repo == nil {
		return nil, nil, ErrRepoNotFound
	}
	return repo, stars, nil
}

// RepoAndForks returns a repo and its forks.
func (s *Service) RepoAndForks(ctx context.Context, ref RepoRef) (*Repo, []Repo, error) {
	page, err := s.store.QueryIndex(ctx, store.IndexQuery{
		Index:      GSI2,
		Partition:  repoKey(ref).Partition,
		Descending: true,
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		repo  *Repo
		forks []Repo
	)
	for _, item := range page.Items {
		var r Repo
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, nil, fmt.Errorf("codehost: unmarshal repo: %w", err)
		}
		if r.Ref() == ref {
			repo = &r
			continue
		}
		forks = append(forks, r)
	}
	if repo == nil {
		return nil, nil, ErrRepoNotFound
	}
	return repo, forks, nil
}
