package simpletoken

// IssueUploadRequest contains parameters for requesting an upload token
type IssueUploadRequest struct {
	// Kind, when set, must be TokenKindUpload
	Kind      TokenKind
	Bucket    string // defaults to the configured bucket
	ObjectKey string // optional, the provider may assign one
	Purpose   string
	// TTLSeconds is the token lifetime; zero selects the configured default
	TTLSeconds int64
	// Policy holds extra upload policy fields (e.g. fsizeLimit, mimeLimit)
	Policy map[string]any
}

// IssueDownloadRequest contains parameters for requesting a download token
type IssueDownloadRequest struct {
	// Kind, when set, must be TokenKindDownload
	Kind      TokenKind
	Bucket    string // defaults to the configured bucket
	ObjectKey string // required
	Purpose   string
	// OriginalURL is the unsigned object URL; when empty it is built from the
	// configured download domain and ObjectKey
	OriginalURL string
	TTLSeconds  int64
}

// DecisionRequest contains a reviewer's verdict on a pending token
type DecisionRequest struct {
	Status TokenStatus // TokenStatusApproved or TokenStatusRejected
	Note   string
}
