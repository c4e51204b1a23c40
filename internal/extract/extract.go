// Package extract pulls numbered multiple-choice questions out of reviewer text.
package extract

import (
	"regexp"
	"strings"

	"github.com/pavelanni/reviewer/internal/model"
)

var (
	questionPattern = regexp.MustCompile(`^\s*\d+\.\s(.*)$`)
	optionPattern   = regexp.MustCompile(`^\s*[A-D]\.\s(.*)$`)
)

// Questions scans text line by line. A line like "3. Prompt" opens a
// candidate question and the "A. ..." to "D. ..." lines directly below it
// become its options. Candidates without options are dropped and the output
// is renumbered from 1.
func Questions(text string) []model.Question {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	questions := []model.Question{}

	for i := 0; i < len(lines); {
		m := questionPattern.FindStringSubmatch(lines[i])
		if m == nil {
			i++
			continue
		}
		prompt := strings.TrimSpace(m[1])
		i++

		var options []string
		for i < len(lines) {
			om := optionPattern.FindStringSubmatch(lines[i])
			if om == nil {
				break
			}
			options = append(options, strings.TrimSpace(om[1]))
			i++
		}
		if len(options) == 0 {
			continue
		}
		questions = append(questions, model.Question{
			Number:  len(questions) + 1,
			Prompt:  prompt,
			Options: options,
		})
	}
	return questions
}
