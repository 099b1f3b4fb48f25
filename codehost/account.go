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

// CreateUser creates a user account. Users and organizations share one
// namespace, so the name must not be taken by either.
func (s *Service) CreateUser(ctx context.Context, a Account) (*Account, error) {
	a.Kind = KindUser
	a.Organizations = map[string]string{}
	return s.createAccount(ctx, a)
}

// CreateOrganization creates an organization account.
func (s *Service) CreateOrganization(ctx context.Context, a Account) (*Account, error) {
	a.Kind = KindOrganization
	a.Organizations = nil
	return s.createAccount(ctx, a)
}

func (s *Service) createAccount(ctx context.Context, a Account) (*Account, error) {
	a.CreatedAt = s.store.Now()
	if err := valid.Struct(a); err != nil {
		return nil, err
	}
	k := accountKey(a.Name)
	item, err := attributevalue.MarshalMap(accountItem{
		keys:    keys{PK: k.Partition, SK: k.Sort, Type: typeAccount},
		gsi3:    gsi3{GSI3PK: k.Partition, GSI3SK: k.Sort},
		Account: a,
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: marshal account: %w", err)
	}
	err = s.store.Put(ctx, item, store.IfNotExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns a user or organization.
func (s *Service) GetAccount(ctx context.Context, name string) (*Account, error) {
	var a Account
	if err := s.get(ctx, accountKey(name), ErrAccountNotFound, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// AddMember adds a user to an organization. The membership item and the
// user's organization map are written together.
func (s *Service) AddMember(ctx context.Context, org, username, role string) (*Membership, error) {
	if err := valid.Var("organization", org, "required,max=39,excludesall=.[]"); err != nil {
		return nil, err
	}
	if err := valid.Var("username", username, "required,max=39"); err != nil {
		return nil, err
	}
	if err := valid.Var("role", role, "oneof="+RoleMember+" "+RoleAdmin); err != nil {
		return nil, err
	}
	m := Membership{
		Organization: org,
		Username:     username,
		Role:         role,
		JoinedAt:     s.store.Now(),
	}
	k := membershipKey(org, username)
	item, err := attributevalue.MarshalMap(membershipItem{
		keys:       keys{PK: k.Partition, SK: k.Sort, Type: typeMembership},
		Membership: m,
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: marshal membership: %w", err)
	}

	kind := expression.Name("AccountType")
	err = s.store.Transact(ctx,
		store.CheckOp(accountKey(org), store.IfExists(), store.If(kind.Equal(expression.Value(KindOrganization)))),
		store.PutOp(item, store.IfNotExists()),
		store.UpdateOp(accountKey(username),
			expression.Set(expression.Name("Organizations."+org), expression.Value(role)),
			store.IfExists(), store.If(kind.Equal(expression.Value(KindUser)))),
	)
	var cerr *store.ConditionError
	if errors.As(err, &cerr) {
		switch {
		case cerr.Failed(0):
			return nil, fmt.Errorf("%w: no organization %q", ErrAccountNotFound, org)
		case cerr.Failed(1):
			return nil, ErrAlreadyMember
		case cerr.Failed(2):
			return nil, fmt.Errorf("%w: no user %q", ErrAccountNotFound, username)
		}
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Members returns every membership of an organization, ordered by username.
func (s *Service) Members(ctx context.Context, org string) ([]Membership, error) {
	page, err := s.store.Query(ctx, store.CollectionQuery{
		Partition: tagAccount.Key(org),
		Range:     store.Prefix(tagMembership.Prefix()),
	})
	if err != nil {
		return nil, err
	}
	var members []Membership
	if err := attributevalue.UnmarshalListOfMaps(page.Items, &members); err != nil {
		return nil, fmt.Errorf("codehost: unmarshal memberships: %w", err)
	}
	return members, nil
}

// AccountAndRepos returns an account and up to limit of its repos, newest
// first. A limit of zero or less returns every repo.
func (s *Service) AccountAndRepos(ctx context.Context, name string, limit int) (*Account, []Repo, error) {
	page, err := s.store.QueryIndex(ctx, store.IndexQuery{
		Index:      GSI3,
		Partition:  tagAccount.Key(name),
		Descending: true,
		Limit:      queryLimit(limit),
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		account *Account
		repos   []Repo
	)
	for _, item := range page.Items {
		switch itemType(item) {
		case typeAccount:
			account = new(Account)
			if err := attributevalue.UnmarshalMap(item, account); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal account: %w", err)
			}
		case typeRepo:
			var r Repo
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, nil, fmt.Errorf("codehost: unmarshal repo: %w", err)
			}
			repos = append(repos, r)
		}
	}
	if account == nil {
		return nil, nil, ErrAccountNotFound
	}
	return account, repos, nil
}
