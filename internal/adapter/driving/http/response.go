package httphandler

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/ericfisherdev/gitaccounts/internal/application"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON body for the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	Accounts int    `json:"accounts"`
}

// KindResponse describes one supported provider kind.
type KindResponse struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Help string `json:"help"`
}

// TLSSettingResponse is one TLS material reference.
type TLSSettingResponse struct {
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// TLSResponse lists the account's TLS material. The passphrase is reported
// only as enabled or not.
type TLSResponse struct {
	PKCS12File              TLSSettingResponse `json:"pkcs12_file"`
	PKCS12PassphraseEnabled bool               `json:"pkcs12_passphrase_enabled"`
	CertFile                TLSSettingResponse `json:"cert_file"`
	CertKeyFile             TLSSettingResponse `json:"cert_key_file"`
	CACertFile              TLSSettingResponse `json:"ca_cert_file"`
}

// ProgressResponse is the busy state of an account.
type ProgressResponse struct {
	State      string `json:"state"`
	Value      int    `json:"value"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

// AccountErrorResponse describes the failure of the last attempt.
type AccountErrorResponse struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Detail string `json:"detail,omitempty"`
}

// AccountResponse is the JSON representation of an account.
type AccountResponse struct {
	Kind               string                `json:"kind"`
	Name               string                `json:"name"`
	Username           string                `json:"username"`
	Host               string                `json:"host"`
	URL                string                `json:"url"`
	CustomURL          bool                  `json:"custom_url"`
	ServiceURL         string                `json:"service_url"`
	TLS                TLSResponse           `json:"tls"`
	Progress           ProgressResponse      `json:"progress"`
	Error              *AccountErrorResponse `json:"error"`
	RepositoryCount    int                   `json:"repository_count"`
	AuthorizeSupported bool                  `json:"authorize_supported"`
}

// RepositoryResponse is the JSON representation of a discovered repository.
type RepositoryResponse struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    string `json:"owner"`
	HTTPSURL string `json:"https_url,omitempty"`
	SSHURL   string `json:"ssh_url,omitempty"`
	Path     string `json:"path,omitempty"`
}

// CommentResponse is a commit comment with its body rendered to HTML.
type CommentResponse struct {
	Author    string `json:"author"`
	Body      string `json:"body"`
	BodyHTML  string `json:"body_html"`
	CreatedAt string `json:"created_at"`
}

// LineCommentsResponse groups the comments on one line of a file.
type LineCommentsResponse struct {
	Line     int               `json:"line"`
	Comments []CommentResponse `json:"comments"`
}

// FileCommentsResponse groups the line comments on one file.
type FileCommentsResponse struct {
	Path  string                 `json:"path"`
	Lines []LineCommentsResponse `json:"lines"`
}

// CommitCommentsResponse is the JSON body for the comments endpoint.
type CommitCommentsResponse struct {
	Repository string                 `json:"repository"`
	OID        string                 `json:"oid"`
	Comments   []CommentResponse      `json:"comments"`
	Files      []FileCommentsResponse `json:"files"`
}

// ForkParentsResponse is the JSON body for the forks endpoint.
type ForkParentsResponse struct {
	Repository string            `json:"repository"`
	Parents    map[string]string `json:"parents"`
}

// PullRequestResponse is the JSON body returned after opening a pull request.
type PullRequestResponse struct {
	URL string `json:"url"`
}

// RefreshResponse summarizes a manual refresh.
type RefreshResponse struct {
	Accounts   int   `json:"accounts"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toKindResponse(k model.Kind) KindResponse {
	return KindResponse{Kind: k.String(), Name: k.DisplayName(), Help: k.HelpText()}
}

func toTLSSettingResponse(s model.TLSSetting) TLSSettingResponse {
	return TLSSettingResponse{Value: s.Value, Enabled: s.Enabled}
}

func toAccountResponse(a *application.Account) AccountResponse {
	tls := a.TLS()
	progress := a.Progress()

	resp := AccountResponse{
		Kind:       a.Kind().String(),
		Name:       a.Name(),
		Username:   a.Username(),
		Host:       a.Host(),
		URL:        a.URL(),
		CustomURL:  a.HasCustomURL(),
		ServiceURL: a.ServiceURL(),
		TLS: TLSResponse{
			PKCS12File:              toTLSSettingResponse(tls.PKCS12File),
			PKCS12PassphraseEnabled: tls.PKCS12Passphrase.Enabled,
			CertFile:                toTLSSettingResponse(tls.CertFile),
			CertKeyFile:             toTLSSettingResponse(tls.CertKeyFile),
			CACertFile:              toTLSSettingResponse(tls.CACertFile),
		},
		Progress: ProgressResponse{
			State:      progress.State.String(),
			Value:      progress.Value(),
			StartedAt:  formatTime(progress.StartedAt),
			FinishedAt: formatTime(progress.FinishedAt),
			ElapsedMS:  progress.Elapsed().Milliseconds(),
		},
		RepositoryCount:    a.RepositoryCount(),
		AuthorizeSupported: a.IsAuthorizeSupported(),
	}

	if accErr := a.Error(); accErr.IsValid() {
		resp.Error = &AccountErrorResponse{
			Kind:   accErr.Kind.String(),
			Text:   accErr.Text,
			Detail: accErr.DetailedText,
		}
	}
	return resp
}

func toRepositoryResponse(a *application.Account, repo *model.Repository) RepositoryResponse {
	return RepositoryResponse{
		Name:     repo.Name,
		FullName: repo.FullName,
		Owner:    repo.Owner(),
		HTTPSURL: repo.URL(model.ProtocolHTTPS),
		SSHURL:   repo.URL(model.ProtocolSSH),
		Path:     a.RepositoryPath(repo.FullName),
	}
}

func toCommentResponse(c model.Comment) CommentResponse {
	return CommentResponse{
		Author:    c.Author,
		Body:      c.Body,
		BodyHTML:  RenderMarkdown(c.Body),
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func toCommentResponses(cs []model.Comment) []CommentResponse {
	return lo.Map(cs, func(c model.Comment, _ int) CommentResponse {
		return toCommentResponse(c)
	})
}

// toCommitCommentsResponse flattens the file and line maps into lists sorted
// by path and line so the output is stable.
func toCommitCommentsResponse(repo, oid string, cc model.CommitComments) CommitCommentsResponse {
	resp := CommitCommentsResponse{
		Repository: repo,
		OID:        oid,
		Comments:   toCommentResponses(cc.Comments),
		Files:      make([]FileCommentsResponse, 0, len(cc.Files)),
	}

	paths := lo.Keys(cc.Files)
	sort.Strings(paths)
	for _, path := range paths {
		byLine := cc.Files[path]
		lines := lo.Keys(byLine)
		sort.Ints(lines)
		resp.Files = append(resp.Files, FileCommentsResponse{
			Path: path,
			Lines: lo.Map(lines, func(line, _ int) LineCommentsResponse {
				return LineCommentsResponse{Line: line, Comments: toCommentResponses(byLine[line])}
			}),
		})
	}
	return resp
}

func toRefreshResponse(res application.RefreshResult) RefreshResponse {
	return RefreshResponse{
		Accounts:   res.Accounts,
		Failed:     res.Failed,
		DurationMS: res.Duration.Milliseconds(),
	}
}
