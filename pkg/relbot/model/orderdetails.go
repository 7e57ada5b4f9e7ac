package model

import (
	"strings"
)

// Field labels making up the submission_data wire format (spec §4.4.8,
// §4.6 step 1). These are a contract between the conversation engine that
// writes them and the SSO orchestrator that reads them back; neither side
// may rename a label without breaking the other.
const (
	labelApplyTime   = "申请时间"
	labelProject     = "申请项目"
	labelEnvironment = "申请环境"
	labelBranch      = "申请发版分支"
	labelServices    = "申请部署服务"
	labelHash        = "申请发版hash"
	labelContent     = "申请发版服务内容"
	labelAddresses   = "申请新增地址"
)

// submissionLabels is ordered longest-prefix-first is not required here
// since every label is checked for a full-string prefix match and none of
// them is a prefix of another.
var submissionLabels = []string{
	labelApplyTime, labelProject, labelEnvironment, labelBranch,
	labelServices, labelHash, labelContent, labelAddresses,
}

// OrderDetails is the structured form of a workflow's submission_data: the
// tuple the SSO orchestrator's parser step (§4.6 step 1) produces and the
// conversation engine's submission-assembly step (§4.4.8) renders from.
type OrderDetails struct {
	ApplyTime   string
	Project     string
	Environment string
	Branch      string
	Services    []string
	Hashes      []string
	Content     string
	Addresses   []string
}

// normalizeSeparators rewrites the full-width comma and Chinese enumeration
// comma to a plain ",", the single normalisation step every list field goes
// through before splitting (spec §4.6 step 1).
func normalizeSeparators(s string) string {
	return strings.NewReplacer("，", ",", "、", ",").Replace(s)
}

// splitList normalizes s and splits it into trimmed, non-empty tokens on
// commas and newlines.
func splitList(s string) []string {
	normalized := normalizeSeparators(s)
	fields := strings.FieldsFunc(normalized, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func matchLabel(line string) (label, rest string, ok bool) {
	for _, l := range submissionLabels {
		if strings.HasPrefix(line, l) {
			rest = strings.TrimPrefix(line, l)
			rest = strings.TrimLeft(rest, "：:")
			return l, strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}

// ParseSubmissionData parses a submission_data blob produced by §4.4.8 back
// into its structured fields, the field-labelled regex-equivalent parser
// required by §4.6 step 1. Unknown lines following the "申请新增地址" label
// are treated as additional address lines (the address-only form's one
// address per line), matching how that field is rendered.
func ParseSubmissionData(data string) OrderDetails {
	var d OrderDetails
	var addresses []string
	inAddresses := false

	for _, raw := range strings.Split(data, "\n") {
		line := strings.TrimRight(raw, "\r")
		if label, rest, ok := matchLabel(line); ok {
			inAddresses = label == labelAddresses
			switch label {
			case labelApplyTime:
				d.ApplyTime = rest
			case labelProject:
				d.Project = rest
			case labelEnvironment:
				d.Environment = rest
			case labelBranch:
				d.Branch = rest
			case labelServices:
				d.Services = splitList(rest)
			case labelHash:
				d.Hashes = splitList(rest)
			case labelContent:
				d.Content = rest
			case labelAddresses:
				if rest != "" {
					addresses = append(addresses, rest)
				}
			}
			continue
		}
		if inAddresses {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				addresses = append(addresses, trimmed)
			}
		}
	}
	d.Addresses = addresses
	return d
}

// FormatSubmissionData renders d into the canonical Chinese-labelled
// multi-line string (spec §4.4.8) that ParseSubmissionData inverts. An
// address-only draft (non-empty Addresses) omits branch/services/hash/
// content and renders the address block instead, matching the
// address-only conversation flow (§4.4 rule 4).
func FormatSubmissionData(d OrderDetails) string {
	var b strings.Builder
	writeField := func(label, value string) {
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	writeField(labelApplyTime, d.ApplyTime)
	writeField(labelProject, d.Project)
	writeField(labelEnvironment, d.Environment)

	if len(d.Addresses) > 0 {
		b.WriteString(labelAddresses)
		b.WriteString(":\n")
		for _, a := range d.Addresses {
			b.WriteString(a)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	writeField(labelBranch, d.Branch)
	writeField(labelServices, strings.Join(d.Services, ", "))
	writeField(labelHash, strings.Join(d.Hashes, ", "))
	b.WriteString(labelContent)
	b.WriteString(": ")
	b.WriteString(d.Content)
	return b.String()
}

// ContainsSeparator reports whether s contains any of the list separators
// a single-token field (the hash input, spec §4.4 rule 5) must reject.
func ContainsSeparator(s string) bool {
	return strings.ContainsAny(s, ",，、")
}
