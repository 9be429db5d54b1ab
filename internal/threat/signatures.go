package threat

import (
	"regexp"
	"strings"
)

// sqlPatterns match common SQL injection token sequences.
var sqlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b.*\bselect\b`),
	regexp.MustCompile(`(?i)\bselect\b.*\bfrom\b.*\bwhere\b`),
	regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate)\b.*\b(into|table|from|set)\b`),
	regexp.MustCompile(`(?i)('|")\s*(or|and)\s+('|")?\d+('|")?\s*=\s*('|")?\d+`),
	regexp.MustCompile(`(?i);\s*(drop|delete|shutdown|exec)\b`),
	regexp.MustCompile(`(?i)\bexec(ute)?\s*\(`),
	regexp.MustCompile(`--\s*$`),
}

// scriptPatterns match script/markup injection attempts.
var scriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script[^>]*>`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon(error|load|click|mouseover)\s*=`),
	regexp.MustCompile(`(?i)<\s*iframe[^>]*>`),
	regexp.MustCompile(`(?i)document\s*\.\s*(cookie|location)`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
}

// badAgents are substrings of user-agent strings sent by scanners and
// exploit tools.
var badAgents = []string{
	"sqlmap",
	"nikto",
	"nessus",
	"nmap",
	"masscan",
	"metasploit",
	"dirbuster",
	"gobuster",
	"wpscan",
	"acunetix",
	"burpsuite",
	"hydra",
	"zgrab",
}

// matchInjection returns how many injection signatures the payload hits.
func matchInjection(payload string) int {
	if payload == "" {
		return 0
	}
	hits := 0
	for _, p := range sqlPatterns {
		if p.MatchString(payload) {
			hits++
		}
	}
	for _, p := range scriptPatterns {
		if p.MatchString(payload) {
			hits++
		}
	}
	return hits
}

// matchAgent reports whether the user agent belongs to a known tool.
func matchAgent(agent string) bool {
	if agent == "" {
		return false
	}
	lowered := strings.ToLower(agent)
	for _, bad := range badAgents {
		if strings.Contains(lowered, bad) {
			return true
		}
	}
	return false
}
