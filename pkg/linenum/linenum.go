/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package linenum

import (
	"regexp"
	"sort"
	"strings"
)

// LineMapper maps between character offsets, line numbers and text in a document
type LineMapper struct {
	content    string
	lines      []string
	lineToChar []int
}

// NewLineMapper creates a new line mapper for the given content
func NewLineMapper(content []byte) *LineMapper {
	return NewLineMapperFromString(string(content))
}

// NewLineMapperFromString creates a new line mapper from string content
func NewLineMapperFromString(content string) *LineMapper {
	lm := &LineMapper{content: content}
	lm.lines = strings.Split(content, "\n")
	lm.lineToChar = make([]int, len(lm.lines)+1)
	for i, line := range lm.lines {
		lm.lineToChar[i+1] = lm.lineToChar[i] + len(line) + 1 // +1 for newline
	}
	return lm
}

// FindPattern represents a search pattern for line number detection
type FindPattern struct {
	Key           string // YAML key (e.g., "run", "name")
	Value         string // The value to search for
	ContextBefore int    // Lines of context before the match
	ContextAfter  int    // Lines of context after the match
}

// LineResult contains the result of a line number search
type LineResult struct {
	LineNumber    int
	ColumnStart   int
	ColumnEnd     int
	LineContent   string
	ContextBefore []string
	ContextAfter  []string
	MatchedText   string
}

// FindLineNumber tries key/value, YAML-context, exact, key-only and fuzzy
// strategies in that order and returns the first hit, or nil.
func (lm *LineMapper) FindLineNumber(pattern FindPattern) *LineResult {
	strategies := []func(FindPattern) *LineResult{
		lm.findByKeyValuePair,
		lm.findByValueWithYAMLContext,
		lm.findByExactValue,
		lm.findByKey,
		lm.findByFuzzyMatch,
	}

	for _, strategy := range strategies {
		if result := strategy(pattern); result != nil {
			lm.addContext(result, pattern.ContextBefore, pattern.ContextAfter)
			return result
		}
	}

	return nil
}

func (lm *LineMapper) findByKeyValuePair(pattern FindPattern) *LineResult {
	if pattern.Key == "" || pattern.Value == "" {
		return nil
	}

	searchPatterns := []string{
		pattern.Key + ": " + pattern.Value,
		pattern.Key + ": '" + pattern.Value + "'",
		pattern.Key + ": \"" + pattern.Value + "\"",
		pattern.Key + ":" + pattern.Value,
	}

	for _, searchPattern := range searchPatterns {
		if result := lm.findExactMatch(searchPattern); result != nil {
			return result
		}
	}

	return nil
}

func (lm *LineMapper) findByValueWithYAMLContext(pattern FindPattern) *LineResult {
	if pattern.Value == "" {
		return nil
	}

	for i, line := range lm.lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(line, pattern.Value) && strings.Contains(line, ":") {
			return lm.createResult(i+1, line, pattern.Value)
		}
	}

	return nil
}

func (lm *LineMapper) findByExactValue(pattern FindPattern) *LineResult {
	if pattern.Value == "" {
		return nil
	}
	return lm.findExactMatch(pattern.Value)
}

// findByKey matches the first line declaring the key, for lookups without a value
func (lm *LineMapper) findByKey(pattern FindPattern) *LineResult {
	if pattern.Key == "" || pattern.Value != "" {
		return nil
	}

	prefix := pattern.Key + ":"
	for i, line := range lm.lines {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "- ")
		if strings.HasPrefix(trimmed, prefix) {
			return lm.createResult(i+1, line, prefix)
		}
	}

	return nil
}

func (lm *LineMapper) findByFuzzyMatch(pattern FindPattern) *LineResult {
	words := strings.Fields(pattern.Value)
	if len(words) == 0 {
		return nil
	}

	bestMatch := -1
	bestScore := 0

	for i, line := range lm.lines {
		lower := strings.ToLower(line)
		score := 0
		for _, word := range words {
			if strings.Contains(lower, strings.ToLower(word)) {
				score++
			}
		}

		// Require at least half the words to match
		if score > bestScore && score >= (len(words)+1)/2 {
			bestScore = score
			bestMatch = i
		}
	}

	if bestMatch >= 0 {
		return lm.createResult(bestMatch+1, lm.lines[bestMatch], pattern.Value)
	}

	return nil
}

func (lm *LineMapper) findExactMatch(searchText string) *LineResult {
	index := strings.Index(lm.content, searchText)
	if index == -1 {
		return nil
	}

	lineNum := lm.CharToLine(index)
	if lineNum == 0 {
		return nil
	}

	return lm.createResult(lineNum, lm.lines[lineNum-1], searchText)
}

func (lm *LineMapper) createResult(lineNum int, lineContent, matchedText string) *LineResult {
	if lineNum <= 0 || lineNum > len(lm.lines) {
		return nil
	}

	colStart := strings.Index(lineContent, matchedText)
	colEnd := colStart + len(matchedText)
	if colStart == -1 {
		colStart = 0
		colEnd = len(lineContent)
	}

	return &LineResult{
		LineNumber:  lineNum,
		ColumnStart: colStart + 1, // 1-based column numbers
		ColumnEnd:   colEnd + 1,
		LineContent: lineContent,
		MatchedText: matchedText,
	}
}

func (lm *LineMapper) addContext(result *LineResult, contextBefore, contextAfter int) {
	if result == nil {
		return
	}
	if contextBefore > 0 {
		result.ContextBefore = lm.GetLines(result.LineNumber-contextBefore, result.LineNumber-1)
	}
	if contextAfter > 0 {
		result.ContextAfter = lm.GetLines(result.LineNumber+1, result.LineNumber+contextAfter)
	}
}

// CharToLine converts a character position to line number (1-based), or 0 if out of range
func (lm *LineMapper) CharToLine(charPos int) int {
	if charPos < 0 || charPos >= len(lm.content) {
		return 0
	}
	return sort.Search(len(lm.lineToChar), func(i int) bool {
		return lm.lineToChar[i] > charPos
	})
}

// LineToChar converts a line number to its starting character position, or -1
func (lm *LineMapper) LineToChar(lineNum int) int {
	if lineNum < 1 || lineNum > len(lm.lines) {
		return -1
	}
	return lm.lineToChar[lineNum-1]
}

// GetLine returns the content of a specific line (1-based)
func (lm *LineMapper) GetLine(lineNum int) string {
	if lineNum < 1 || lineNum > len(lm.lines) {
		return ""
	}
	return lm.lines[lineNum-1]
}

// GetLines returns a range of lines (1-based, inclusive), clamped to the document
func (lm *LineMapper) GetLines(startLine, endLine int) []string {
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lm.lines) {
		endLine = len(lm.lines)
	}
	if startLine > endLine {
		return []string{}
	}

	result := make([]string, 0, endLine-startLine+1)
	result = append(result, lm.lines[startLine-1:endLine]...)
	return result
}

// TotalLines returns the total number of lines in the content
func (lm *LineMapper) TotalLines() int {
	return len(lm.lines)
}

// FindPattern returns every regex match with its line and columns
func (lm *LineMapper) FindPattern(regex *regexp.Regexp) []*LineResult {
	var results []*LineResult

	for _, match := range regex.FindAllStringIndex(lm.content, -1) {
		lineNum := lm.CharToLine(match[0])
		if lineNum == 0 {
			continue
		}

		matchedText := lm.content[match[0]:match[1]]
		colStart := match[0] - lm.LineToChar(lineNum) + 1
		results = append(results, &LineResult{
			LineNumber:  lineNum,
			ColumnStart: colStart,
			ColumnEnd:   colStart + len(matchedText),
			LineContent: lm.GetLine(lineNum),
			MatchedText: matchedText,
		})
	}

	return results
}

// Excerpt is a window of lines around a focus line
type Excerpt struct {
	StartLine     int
	EndLine       int
	Content       string
	HighlightLine int
}

// Excerpt returns up to context lines on each side of line, or nil if line is outside the document
func (lm *LineMapper) Excerpt(line, context int) *Excerpt {
	if line < 1 || line > len(lm.lines) {
		return nil
	}
	if context < 0 {
		context = 0
	}

	start := line - context
	if start < 1 {
		start = 1
	}
	end := line + context
	if end > len(lm.lines) {
		end = len(lm.lines)
	}

	return &Excerpt{
		StartLine:     start,
		EndLine:       end,
		Content:       strings.Join(lm.GetLines(start, end), "\n"),
		HighlightLine: line,
	}
}

// EnclosingBlock returns the index of the last anchor line at or before line.
// anchors must be ascending. Returns -1 when line precedes every anchor.
func EnclosingBlock(anchors []int, line int) int {
	idx := sort.Search(len(anchors), func(i int) bool {
		return anchors[i] > line
	})
	return idx - 1
}
