package model

import "time"

// Comment is a single commit comment.
type Comment struct {
	Body      string
	Author    string
	CreatedAt time.Time
}

// CommitComments groups the comments on a commit. General comments are kept
// in chronological order; line comments are indexed by file path and line.
type CommitComments struct {
	Comments []Comment
	Files    map[string]map[int][]Comment
}

// Add files c under path and line, or as a general comment when path is empty.
func (cc *CommitComments) Add(path string, line int, c Comment) {
	if path == "" {
		cc.Comments = append(cc.Comments, c)
		return
	}
	if cc.Files == nil {
		cc.Files = make(map[string]map[int][]Comment)
	}
	if cc.Files[path] == nil {
		cc.Files[path] = make(map[int][]Comment)
	}
	cc.Files[path][line] = append(cc.Files[path][line], c)
}

// PullRequest describes a pull request to open on the hosting provider.
// OwnerRepo is the target repository; Head may be "owner:branch" for forks.
type PullRequest struct {
	OwnerRepo string
	Title     string
	Body      string
	Head      string
	Base      string
	CanModify bool
}
