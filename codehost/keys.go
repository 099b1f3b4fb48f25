package codehost

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/singletable/key"
	"github.com/jacentio/singletable/store"
)

const (
	tagRepo       key.Tag = "REPO"
	tagIssue      key.Tag = "ISSUE"
	tagPR         key.Tag = "PR"
	tagStar       key.Tag = "STAR"
	tagFork       key.Tag = "FORK"
	tagAccount    key.Tag = "ACCOUNT"
	tagMembership key.Tag = "MEMBERSHIP"

	// ordinalWidth pads issue and pull request numbers so they sort numerically.
	ordinalWidth = 9

	counterAttribute = "IssuesAndPullRequestCount"
	starsAttribute   = "StarCount"
	forksAttribute   = "ForkCount"
)

var (
	// GSI1 groups a repo with its pull requests.
	GSI1 = store.Index{Name: "GSI1", PartitionKey: "GSI1PK", SortKey: "GSI1SK"}
	// GSI2 groups a repo with its forks.
	GSI2 = store.Index{Name: "GSI2", PartitionKey: "GSI2PK", SortKey: "GSI2SK"}
	// GSI3 groups an account with its repos, newest first when read descending.
	GSI3 = store.Index{Name: "GSI3", PartitionKey: "GSI3PK", SortKey: "GSI3SK"}
)

const (
	typeRepo        = "Repo"
	typeIssue       = "Issue"
	typePullRequest = "PullRequest"
	typeStar        = "Star"
	typeAccount     = "Account"
	typeMembership  = "Membership"
)

func repoKey(ref RepoRef) store.Key {
	k := tagRepo.Key(ref.Owner, ref.Name)
	return store.Key{Partition: k, Sort: k}
}

func issueKey(ref RepoRef, number int64) (store.Key, error) {
	sk, err := tagIssue.Ordinal(number, ordinalWidth)
	if err != nil {
		return store.Key{}, err
	}
	return store.Key{Partition: tagRepo.Key(ref.Owner, ref.Name), Sort: sk}, nil
}

func pullRequestKey(ref RepoRef, number int64) (store.Key, error) {
	n, err := key.Ordinal(number, ordinalWidth)
	if err != nil {
		return store.Key{}, err
	}
	k := tagPR.Key(ref.Owner, ref.Name, n)
	return store.Key{Partition: k, Sort: k}, nil
}

func starKey(ref RepoRef, username string) store.Key {
	return store.Key{Partition: tagRepo.Key(ref.Owner, ref.Name), Sort: tagStar.Key(username)}
}

func accountKey(name string) store.Key {
	k := tagAccount.Key(name)
	return store.Key{Partition: k, Sort: k}
}

func membershipKey(org, username string) store.Key {
	return store.Key{Partition: tagAccount.Key(org), Sort: tagMembership.Key(username)}
}

// createdKey sorts an account's repos by creation time after the account item.
func createdKey(t time.Time) string {
	return "#" + t.UTC().Format(time.RFC3339)
}

func itemType(item store.Item) string {
	if v, ok := item["Type"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
