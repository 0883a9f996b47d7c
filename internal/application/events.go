package application

import "github.com/ericfisherdev/gitaccounts/internal/domain/model"

// Event is delivered synchronously to listeners registered with
// Account.OnEvent or Registry.OnEvent. Listeners may read account state but
// must not call Connect, AddRepository or SetRepositoryPath from the callback.
type Event interface {
	// Source returns the account the event belongs to.
	Source() *Account
}

type eventBase struct {
	Account *Account
}

func (e eventBase) Source() *Account { return e.Account }

// RepositoriesCleared fires at the start of an attempt when the previous
// repository list is dropped.
type RepositoriesCleared struct{ eventBase }

// RepositoryAboutToBeAdded fires immediately before a repository is appended.
type RepositoryAboutToBeAdded struct {
	eventBase
	Index int
}

// RepositoryAdded fires immediately after a repository is appended.
type RepositoryAdded struct {
	eventBase
	Index      int
	Repository *model.Repository
}

// RepositoryPathChanged fires when a local checkout path is set or cleared.
// Index is -1 when the repository is not in the current list.
type RepositoryPathChanged struct {
	eventBase
	Index    int
	FullName string
	Path     string
}

// ProgressStarted fires when an attempt begins.
type ProgressStarted struct {
	eventBase
	Epoch uint64
}

// ProgressFinished fires exactly once for every attempt that is still
// current when it completes or when Registry.Close stops it.
type ProgressFinished struct {
	eventBase
	Epoch        uint64
	Error        model.AccountError
	Repositories int
	// Stopped is set when the attempt was cancelled by Registry.Close.
	Stopped bool
}

// ForkParentsReady carries the parent and source of a forked repository,
// keyed by full name with the HTTPS clone URL as value.
type ForkParentsReady struct {
	eventBase
	Repository string
	Parents    map[string]string
}

// PullRequestCreated carries the web URL of a newly opened pull request.
type PullRequestCreated struct {
	eventBase
	Name string
	URL  string
}

// PullRequestError reports a failed pull request creation.
type PullRequestError struct {
	eventBase
	Name    string
	Message string
}

// CommentsReady carries the comments on a commit.
type CommentsReady struct {
	eventBase
	Repository string
	OID        string
	Comments   model.CommitComments
}

// AccountAdded fires when the registry creates an account.
type AccountAdded struct{ eventBase }

// AccountRemoved fires when the registry removes an account.
type AccountRemoved struct{ eventBase }
