package codehost

import "time"

// Issue and pull request statuses.
const (
	StatusOpen   = "Open"
	StatusClosed = "Closed"
	StatusMerged = "Merged"
)

// Account kinds.
const (
	KindUser         = "User"
	KindOrganization = "Organization"
)

// Membership roles.
const (
	RoleMember = "Member"
	RoleAdmin  = "Admin"
)

// RepoRef names a repository.
type RepoRef struct {
	Owner string `validate:"required,max=100"`
	Name  string `validate:"required,max=100"`
}

func (r RepoRef) String() string { return r.Owner + "/" + r.Name }

// Repo is a repository with its denormalized counters.
type Repo struct {
	Owner       string    `dynamodbav:"RepoOwner"`
	Name        string    `dynamodbav:"RepoName"`
	Description string    `dynamodbav:"Description,omitempty"`
	CreatedAt   time.Time `dynamodbav:"CreatedAt"`

	// ParentOwner is set on forks.
	ParentOwner string `dynamodbav:"ParentOwner,omitempty"`

	IssuesAndPullRequestCount int64 `dynamodbav:"IssuesAndPullRequestCount"`
	StarCount                 int64 `dynamodbav:"StarCount"`
	ForkCount                 int64 `dynamodbav:"ForkCount"`
}

// Ref returns the repo's name.
func (r Repo) Ref() RepoRef { return RepoRef{Owner: r.Owner, Name: r.Name} }

// Issue is numbered from the repo's shared issue and pull request counter.
type Issue struct {
	Owner     string    `dynamodbav:"RepoOwner"`
	Repo      string    `dynamodbav:"RepoName"`
	Number    int64     `dynamodbav:"IssueNumber"`
	Title     string    `dynamodbav:"Title"`
	Body      string    `dynamodbav:"Body,omitempty"`
	Creator   string    `dynamodbav:"Creator"`
	Status    string    `dynamodbav:"Status,omitempty"`
	CreatedAt time.Time `dynamodbav:"CreatedAt"`
}

// PullRequest is numbered from the repo's shared issue and pull request counter.
type PullRequest struct {
	Owner     string    `dynamodbav:"RepoOwner"`
	Repo      string    `dynamodbav:"RepoName"`
	Number    int64     `dynamodbav:"PullRequestNumber"`
	Title     string    `dynamodbav:"Title"`
	Creator   string    `dynamodbav:"Creator"`
	Status    string    `dynamodbav:"Status"`
	CreatedAt time.Time `dynamodbav:"CreatedAt"`
}

// Submission is the caller-supplied part of a new issue or pull request.
type Submission struct {
	Title   string `validate:"required,max=256"`
	Body    string `validate:"max=65536"`
	Creator string `validate:"required"`
}

// Star records that a user starred a repo.
type Star struct {
	Owner     string    `dynamodbav:"RepoOwner"`
	Repo      string    `dynamodbav:"RepoName"`
	Username  string    `dynamodbav:"StarringUser"`
	StarredAt time.Time `dynamodbav:"StarredAt"`
}

// PaymentPlan is an account's billing plan.
type PaymentPlan struct {
	PlanType    string    `dynamodbav:"PlanType" validate:"required,oneof=Free Pro Enterprise"`
	RenewalDate time.Time `dynamodbav:"RenewalDate"`
}

// Account is a user or an organization. Both share one namespace.
type Account struct {
	Name        string       `dynamodbav:"AccountName" validate:"required,max=39,excludesall=.[]"`
	Kind        string       `dynamodbav:"AccountType" validate:"required,oneof=User Organization"`
	Email       string       `dynamodbav:"Email,omitempty" validate:"omitempty,email"`
	Description string       `dynamodbav:"Description,omitempty"`
	CreatedAt   time.Time    `dynamodbav:"CreatedAt"`
	PaymentPlan *PaymentPlan `dynamodbav:"PaymentPlan,omitempty"`

	// Organizations maps organization name to role, for users.
	Organizations map[string]string `dynamodbav:"Organizations"`
}

// Membership records a user's role in an organization.
type Membership struct {
	Organization string    `dynamodbav:"OrganizationName"`
	Username     string    `dynamodbav:"MemberName"`
	Role         string    `dynamodbav:"Role"`
	JoinedAt     time.Time `dynamodbav:"JoinedAt"`
}

type keys struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Type string `dynamodbav:"Type"`
}

type gsi1 struct {
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
}

type gsi2 struct {
	GSI2PK string `dynamodbav:"GSI2PK"`
	GSI2SK string `dynamodbav:"GSI2SK"`
}

type gsi3 struct {
	GSI3PK string `dynamodbav:"GSI3PK"`
	GSI3SK string `dynamodbav:"GSI3SK"`
}

type repoItem struct {
	keys
	gsi1
	gsi2
	gsi3
	Repo
}

type issueItem struct {
	keys
	Issue
}

type pullRequestItem struct {
	keys
	gsi1
	PullRequest
}

type starItem struct {
	keys
	Star
}

type accountItem struct {
	keys
	gsi3
	Account
}

type membershipItem struct {
	keys
	Membership
}
