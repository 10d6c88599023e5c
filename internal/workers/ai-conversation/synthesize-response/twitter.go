package synthesizeresponse

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// FormatTweet turns a model reply into postable text: Markdown removed,
// whitespace collapsed, hashtag last and at most maxChars characters.
func FormatTweet(reply, hashtag string, maxChars int) string {
	body := collapseSpace(plainText(reply))
	hashtag = strings.TrimSpace(hashtag)

	suffix := ""
	if hashtag != "" {
		body = collapseSpace(removeHashtag(body, hashtag))
		suffix = " " + hashtag
	}
	if maxChars <= 0 {
		return strings.TrimSpace(body + suffix)
	}

	limit := maxChars - utf8.RuneCountInString(suffix)
	if limit <= 0 {
		return truncateRunes(strings.TrimSpace(suffix), maxChars)
	}
	return strings.TrimSpace(trimToWord(body, limit) + suffix)
}

// removeHashtag drops every case-insensitive occurrence of hashtag that is
// not the prefix of a longer tag.
func removeHashtag(body, hashtag string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(hashtag) + `([^\p{L}\p{N}_]|$)`)
	return re.ReplaceAllString(body, "${1}")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// plainText renders the text content of a Markdown document, dropping link
// targets, emphasis markers, header marks and code fences. Ordered list
// markers are kept: "62." at the start of a reply is the answer, not a list.
func plainText(markdown string) string {
	src := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.ListItem:
			if list, ok := node.Parent().(*ast.List); ok && list.IsOrdered() {
				fmt.Fprintf(&b, "%d%c ", list.Start+itemIndex(node), list.Marker)
			}
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.AutoLink:
			b.Write(node.Label(src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				segment := lines.At(i)
				b.Write(segment.Value(src))
				b.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// itemIndex is the position of an item within its list.
func itemIndex(item ast.Node) int {
	i := 0
	for prev := item.PreviousSibling(); prev != nil; prev = prev.PreviousSibling() {
		i++
	}
	return i
}

// trimToWord cuts s to at most limit characters, preferring the last word
// boundary.
func trimToWord(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := truncateRunes(s, limit)
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:-")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
