package analysis

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/intelligrit/quakesafe/internal/model"
)

// NoDetails is the description used when the reply lacks the expected
// "Safety Features" and "Potential Concerns" sections.
const NoDetails = "No detailed safety features or concerns found in the analysis."

var ErrNoScore = errors.New("no safety score in analysis")

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// rangeRe matches "7.0-7.5", "6.5–7.0" (en or em dash) and "6 to 7".
var rangeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:-|\x{2013}|\x{2014}|to)\s*(\d+(?:\.\d+)?)`)

// ParseAssessment extracts the score, survivability and description from an
// assessment reply. The score is required; survivability is optional and left
// empty when it cannot be read.
func ParseAssessment(text string) (*model.Assessment, error) {
	lines := normalizedLines(text)

	scoreVal, ok := valueAfter(lines, "safety score")
	if !ok {
		return nil, fmt.Errorf("%w: %.200s", ErrNoScore, text)
	}
	nums := numberRe.FindAllString(scoreVal, -1)
	if len(nums) == 0 {
		return nil, fmt.Errorf("%w: unreadable value %q", ErrNoScore, scoreVal)
	}
	score, err := strconv.ParseFloat(nums[0], 64)
	if err != nil || score > 100 {
		return nil, fmt.Errorf("%w: out of range value %q", ErrNoScore, scoreVal)
	}

	return &model.Assessment{
		Score:              score,
		SurvivabilityLabel: parseSurvivability(lines),
		Description:        parseDescription(text),
	}, nil
}

// normalizedLines lower-cases the reply and strips markdown emphasis.
func normalizedLines(text string) []string {
	raw := strings.Split(strings.ToLower(text), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		out = append(out, strings.TrimSpace(strings.ReplaceAll(l, "*", "")))
	}
	return out
}

// valueAfter returns the text after the first colon of the first line that
// mentions key.
func valueAfter(lines []string, key string) (string, bool) {
	for _, l := range lines {
		if !strings.Contains(l, key) {
			continue
		}
		_, v, found := strings.Cut(l, ":")
		if !found {
			continue
		}
		return strings.TrimSpace(v), true
	}
	return "", false
}

// parseSurvivability reads "7.5" or the upper bound of a range like "7.0-7.5",
// "6.5–7.0" or "6.5 to 7".
func parseSurvivability(lines []string) string {
	v, ok := valueAfter(lines, "estimated magnitude survivability")
	if !ok {
		return ""
	}
	var pick string
	if r := rangeRe.FindStringSubmatch(v); r != nil {
		pick = r[2]
	} else if num := numberRe.FindString(v); num != "" {
		pick = num
	} else {
		return ""
	}
	m, err := strconv.ParseFloat(pick, 64)
	if err != nil {
		return ""
	}
	s := strconv.FormatFloat(m, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// parseDescription keeps the original text from the "Safety Features" header
// through the end, with the two sections separated by a blank line.
func parseDescription(text string) string {
	lower := strings.ToLower(text)
	features := strings.Index(lower, "### safety features")
	concerns := strings.Index(lower, "### potential concerns")
	if features == -1 || concerns == -1 || concerns < features {
		return NoDetails
	}
	return strings.TrimSpace(text[features:concerns]) + "\n\n" + strings.TrimSpace(text[concerns:])
}
