package model

// Finding is one independently detected condition about a website.
// Code doubles as the weight-table key; Detail is human-readable
// context that never participates in scoring.
type Finding struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Signal codes emitted by the website evaluator. Weights are assigned
// per code in the scoring config; unknown codes score zero.
const (
	// Hard failures.
	CodeUnreachable      = "unreachable"
	CodeTimeout          = "timeout"
	CodeTLSError         = "tls_error"
	CodeTooManyRedirects = "too_many_redirects"
	CodeFetchFailed      = "fetch_failed"
	CodeServerError      = "server_error"
	CodeClientError      = "client_error"
	CodeHTTPBlocked      = "http_blocked"
	CodeEmptyPage        = "empty_page"
	CodeParkedDomain     = "parked_domain"

	// Medium signals.
	CodeNoHTTPS           = "no_https"
	CodeOldCopyright      = "old_copyright"
	CodeFlashContent      = "flash_content"
	CodeNoViewport        = "no_viewport"
	CodeNotResponsive     = "not_responsive"
	CodeSlowResponse      = "slow_response"
	CodeRedirectChain     = "redirect_chain"
	CodeStaleLastModified = "stale_last_modified"
	CodeLegacyMarkup      = "legacy_markup"
	CodeOldJQuery         = "old_jquery"
	CodeMissingTitle      = "missing_title"
	CodeMissingMetaDesc   = "missing_meta_description"

	// Weak signals.
	CodeDIYBuilder = "diy_builder"
	CodeSocialOnly = "social_only"

	// Synthetic codes supplied by the orchestrator, never by the evaluator.
	CodeNoWebsite       = "no_website"
	CodeEvaluationError = "evaluation_error"
)

// FindingCodes extracts the set of codes present in a finding list,
// de-duplicated, preserving first-occurrence order.
func FindingCodes(findings []Finding) []string {
	seen := make(map[string]bool, len(findings))
	codes := make([]string, 0, len(findings))
	for _, f := range findings {
		if seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		codes = append(codes, f.Code)
	}
	return codes
}
