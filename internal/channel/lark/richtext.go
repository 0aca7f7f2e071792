package lark

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// postElement is one inline element of a Lark post paragraph.
type postElement = map[string]interface{}

const markdownExtensions = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock |
	parser.Strikethrough | parser.FencedCode | parser.Autolink | parser.Tables

// markdownToPost converts markdown into the paragraphs of a Lark post.
func markdownToPost(md string) [][]postElement {
	if strings.TrimSpace(md) == "" {
		return nil
	}
	doc := parser.NewWithExtensions(markdownExtensions).Parse([]byte(md))

	b := &postBuilder{}
	b.node(doc)
	b.flush()
	return b.paragraphs
}

type postBuilder struct {
	paragraphs [][]postElement
	current    []postElement
	styles     []string
}

func (b *postBuilder) flush() {
	if len(b.current) > 0 {
		b.paragraphs = append(b.paragraphs, b.current)
		b.current = nil
	}
}

func (b *postBuilder) text(s string) {
	if s == "" {
		return
	}
	el := postElement{"tag": "text", "text": s}
	if len(b.styles) > 0 {
		var styles []string
		for _, st := range b.styles {
			if !slices.Contains(styles, st) {
				styles = append(styles, st)
			}
		}
		el["style"] = styles
	}
	b.current = append(b.current, el)
}

// styled renders n's children with style pushed.
func (b *postBuilder) styled(style string, n ast.Node) {
	b.styles = append(b.styles, style)
	b.children(n)
	b.styles = b.styles[:len(b.styles)-1]
}

func (b *postBuilder) children(n ast.Node) {
	for _, c := range n.GetChildren() {
		b.node(c)
	}
}

func (b *postBuilder) node(n ast.Node) {
	switch n := n.(type) {
	case *ast.Document:
		b.children(n)
	case *ast.Paragraph:
		b.children(n)
		b.flush()
	case *ast.Heading:
		b.styled("bold", n)
		b.flush()
	case *ast.BlockQuote:
		b.styled("italic", n)
	case *ast.Strong:
		b.styled("bold", n)
	case *ast.Emph:
		b.styled("italic", n)
	case *ast.Del:
		b.styled("lineThrough", n)
	case *ast.Code:
		// posts have no inline code style
		b.styles = append(b.styles, "underline")
		b.text(string(n.Literal))
		b.styles = b.styles[:len(b.styles)-1]
	case *ast.CodeBlock:
		b.flush()
		el := postElement{"tag": "code_block", "text": strings.TrimRight(string(n.Literal), "\n")}
		if f := strings.Fields(string(n.Info)); len(f) > 0 {
			el["language"] = f[0]
		}
		b.paragraphs = append(b.paragraphs, []postElement{el})
	case *ast.Link:
		label := linkText(n)
		if label == "" {
			label = string(n.Destination)
		}
		b.current = append(b.current, postElement{"tag": "a", "text": label, "href": string(n.Destination)})
	case *ast.Text:
		b.text(string(n.Literal))
	case *ast.Softbreak, *ast.Hardbreak:
		b.text("\n")
	case *ast.HorizontalRule:
		b.flush()
		b.paragraphs = append(b.paragraphs, []postElement{{"tag": "hr"}})
	case *ast.List:
		b.list(n)
	case *ast.Table:
		b.table(n)
	default:
		if len(n.GetChildren()) > 0 {
			b.children(n)
			return
		}
		if leaf := n.AsLeaf(); leaf != nil {
			b.text(string(leaf.Literal))
		}
	}
}

func (b *postBuilder) list(l *ast.List) {
	ordered := l.ListFlags&ast.ListTypeOrdered != 0
	index := max(l.Start, 1)
	for _, c := range l.GetChildren() {
		item, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		if ordered {
			b.text(strconv.Itoa(index) + ". ")
			index++
		} else {
			b.text("• ")
		}
		for _, ic := range item.GetChildren() {
			if p, ok := ic.(*ast.Paragraph); ok {
				b.children(p)
			} else {
				b.node(ic)
			}
		}
		b.flush()
	}
}

func (b *postBuilder) table(t *ast.Table) {
	for _, section := range t.GetChildren() {
		for _, row := range section.GetChildren() {
			if _, ok := row.(*ast.TableRow); !ok {
				continue
			}
			for i, cell := range row.GetChildren() {
				if i > 0 {
					b.text(" | ")
				}
				b.children(cell)
			}
			b.flush()
		}
	}
}

func linkText(n ast.Node) string {
	var sb strings.Builder
	ast.WalkFunc(n, func(node ast.Node, entering bool) ast.WalkStatus {
		if t, ok := node.(*ast.Text); ok && entering {
			sb.Write(t.Literal)
		}
		return ast.GoToNext
	})
	return sb.String()
}
