package probe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

// Parked-domain indicators (checked lowercase).
var parkedIndicators = []string{
	"domain for sale",
	"this domain is for sale",
	"buy this domain",
	"domain parking",
	"parked domain",
	"domain has expired",
	"this site is under construction",
	"website coming soon",
	"future home of",
	"sedoparking.com",
	"domainmarket.com",
	"hugedomains.com",
	"afternic.com",
	"dan.com/buy-domain",
	"godaddy.com/domainsearch",
}

// DIY website builder fingerprints (pattern -> builder name).
// Self-hosted WordPress is fine; wordpress.com hosting is the signal.
var diyBuilders = map[string]string{
	"wix.com":              "wix",
	"wixsite.com":          "wix",
	"squarespace.com":      "squarespace",
	"weebly.com":           "weebly",
	"site123.com":          "site123",
	"godaddy.com/websites": "godaddy_builder",
	"wordpress.com":        "wordpress_com",
	"jimdo.com":            "jimdo",
	"webflow.io":           "webflow",
	"carrd.co":             "carrd",
}

// Copyright patterns restricted to copyright context so phone numbers,
// addresses, and prices don't produce false years.
var copyrightPatterns = []*regexp.Regexp{
	regexp.MustCompile(`©\s*(\d{4})`),
	regexp.MustCompile(`(?i)copyright\s*(?:©)?\s*(\d{4})`),
	regexp.MustCompile(`(?i)\(c\)\s*(\d{4})`),
	regexp.MustCompile(`(?i)all rights reserved[^0-9]*(\d{4})`),
}

var oldJQueryPattern = regexp.MustCompile(`jquery[.-]?([12])\.\d+`)

var responsiveHints = []string{
	"@media",
	"bootstrap",
	"tailwind",
	"foundation",
	"responsive",
	"mobile-friendly",
}

// analyzeMarkup inspects a fetched page and returns the markup-derived
// findings. It never errors: a page we cannot make sense of simply
// yields fewer findings.
func (e *Evaluator) analyzeMarkup(html, finalURL string, now time.Time) []model.Finding {
	var findings []model.Finding

	if len(strings.TrimSpace(html)) < 100 {
		return append(findings, model.Finding{
			Code:   model.CodeEmptyPage,
			Detail: fmt.Sprintf("page body is %d bytes", len(html)),
		})
	}

	lower := strings.ToLower(html)

	if parked, hit := checkParked(lower); parked {
		findings = append(findings, model.Finding{
			Code:   model.CodeParkedDomain,
			Detail: "matched indicator: " + hit,
		})
	}

	if year, ok := extractCopyrightYear(html, lower, now); ok {
		if age := now.Year() - year; age >= e.cfg.CopyrightStaleYrs {
			findings = append(findings, model.Finding{
				Code:   model.CodeOldCopyright,
				Detail: fmt.Sprintf("copyright year %d", year),
			})
		}
	}

	hasViewport := strings.Contains(lower, `name="viewport"`) || strings.Contains(lower, `name='viewport'`)
	if !hasViewport {
		findings = append(findings, model.Finding{Code: model.CodeNoViewport})
		if !containsAny(lower, responsiveHints...) {
			findings = append(findings, model.Finding{Code: model.CodeNotResponsive})
		}
	}

	findings = append(findings, legacyTechFindings(lower)...)

	if builder, ok := checkDIYBuilder(lower, strings.ToLower(finalURL)); ok {
		findings = append(findings, model.Finding{
			Code:   model.CodeDIYBuilder,
			Detail: "builder: " + builder,
		})
	}

	if title := extractTag(lower, "<title>", "</title>"); strings.TrimSpace(title) == "" {
		findings = append(findings, model.Finding{Code: model.CodeMissingTitle})
	}
	if !strings.Contains(lower, `name="description"`) && !strings.Contains(lower, `name='description'`) {
		findings = append(findings, model.Finding{Code: model.CodeMissingMetaDesc})
	}

	return findings
}

func checkParked(lower string) (bool, string) {
	for _, indicator := range parkedIndicators {
		if strings.Contains(lower, indicator) {
			return true, indicator
		}
	}
	return false, ""
}

func checkDIYBuilder(lowerHTML, lowerURL string) (string, bool) {
	for pattern, builder := range diyBuilders {
		if strings.Contains(lowerHTML, pattern) || strings.Contains(lowerURL, pattern) {
			return builder, true
		}
	}
	return "", false
}

// extractCopyrightYear searches the footer area first (last marker of
// <footer>, footer class/id, or </body>; otherwise the last 20% of the
// page), falling back to the whole document. Years outside 1990..now+1
// are ignored; the newest plausible year wins.
func extractCopyrightYear(html, lower string, now time.Time) (int, bool) {
	footerStart := -1
	for _, marker := range []string{"<footer", `class="footer"`, `id="footer"`, "</body>"} {
		if pos := strings.LastIndex(lower, marker); pos > footerStart {
			footerStart = pos
		}
	}

	searchArea := html
	if footerStart > 0 {
		searchArea = html[footerStart:]
	} else if len(html) > 0 {
		searchArea = html[len(html)*8/10:]
	}

	if year, ok := bestCopyrightYear(searchArea, now); ok {
		return year, true
	}
	return bestCopyrightYear(html, now)
}

func bestCopyrightYear(area string, now time.Time) (int, bool) {
	best := 0
	for _, pat := range copyrightPatterns {
		for _, m := range pat.FindAllStringSubmatch(area, -1) {
			year, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if year >= 1990 && year <= now.Year()+1 && year > best {
				best = year
			}
		}
	}
	return best, best > 0
}

func legacyTechFindings(lower string) []model.Finding {
	var findings []model.Finding

	if strings.Contains(lower, "<object") && (strings.Contains(lower, "flash") || strings.Contains(lower, ".swf")) {
		findings = append(findings, model.Finding{Code: model.CodeFlashContent})
	}

	var legacy []string
	if strings.Contains(lower, "<frameset") || strings.Contains(lower, "<frame ") {
		legacy = append(legacy, "frames")
	}
	if strings.Contains(lower, "<marquee") {
		legacy = append(legacy, "marquee")
	}
	if strings.Contains(lower, "<blink") {
		legacy = append(legacy, "blink")
	}
	if len(legacy) > 0 {
		findings = append(findings, model.Finding{
			Code:   model.CodeLegacyMarkup,
			Detail: strings.Join(legacy, ","),
		})
	}

	if m := oldJQueryPattern.FindStringSubmatch(lower); m != nil {
		findings = append(findings, model.Finding{
			Code:   model.CodeOldJQuery,
			Detail: "jquery " + m[1] + ".x",
		})
	}

	return findings
}

func extractTag(lower, open, close string) string {
	start := strings.Index(lower, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(lower[start:], close)
	if end < 0 {
		return ""
	}
	return lower[start : start+end]
}

// containsAny checks if s contains any of the given substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
