package telegram

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

const markdownExtensions = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock |
	parser.Strikethrough | parser.FencedCode | parser.Autolink

// convertMarkdownEntities renders markdown to plain text plus Telegram
// message entities. Offsets are counted in UTF-16 code units.
func convertMarkdownEntities(md string) (string, []models.MessageEntity) {
	if strings.TrimSpace(md) == "" {
		return "", nil
	}
	doc := parser.NewWithExtensions(markdownExtensions).Parse([]byte(md))

	w := &entityWriter{}
	w.node(doc)
	sort.SliceStable(w.entities, func(i, j int) bool {
		if w.entities[i].Offset != w.entities[j].Offset {
			return w.entities[i].Offset < w.entities[j].Offset
		}
		return w.entities[i].Length > w.entities[j].Length
	})
	return strings.TrimRight(w.text.String(), "\n"), w.entities
}

type entityWriter struct {
	text     strings.Builder
	offset   int
	entities []models.MessageEntity
}

func (w *entityWriter) write(s string) {
	w.text.WriteString(s)
	w.offset += len(utf16.Encode([]rune(s)))
}

// span renders body and marks what it wrote with an entity of kind.
func (w *entityWriter) span(kind models.MessageEntityType, body func(), decorate func(*models.MessageEntity)) {
	start := w.offset
	body()
	if w.offset <= start {
		return
	}
	e := models.MessageEntity{Type: kind, Offset: start, Length: w.offset - start}
	if decorate != nil {
		decorate(&e)
	}
	w.entities = append(w.entities, e)
}

func (w *entityWriter) children(n ast.Node) {
	for _, c := range n.GetChildren() {
		w.node(c)
	}
}

// blockBreak separates block n from whatever follows it.
func (w *entityWriter) blockBreak(n ast.Node) {
	if ast.GetNextNode(n) == nil {
		return
	}
	if _, inItem := n.GetParent().(*ast.ListItem); inItem {
		w.write("\n")
		return
	}
	w.write("\n\n")
}

func (w *entityWriter) node(n ast.Node) {
	switch n := n.(type) {
	case *ast.Document:
		w.children(n)
	case *ast.Paragraph:
		w.children(n)
		w.blockBreak(n)
	case *ast.Heading:
		w.span(models.MessageEntityTypeBold, func() { w.children(n) }, nil)
		w.blockBreak(n)
	case *ast.BlockQuote:
		w.span(models.MessageEntityTypeBlockquote, func() { w.children(n) }, nil)
		w.blockBreak(n)
	case *ast.List:
		w.list(n)
		w.blockBreak(n)
	case *ast.Strong:
		w.span(models.MessageEntityTypeBold, func() { w.children(n) }, nil)
	case *ast.Emph:
		w.span(models.MessageEntityTypeItalic, func() { w.children(n) }, nil)
	case *ast.Del:
		w.span(models.MessageEntityTypeStrikethrough, func() { w.children(n) }, nil)
	case *ast.Code:
		w.span(models.MessageEntityTypeCode, func() { w.write(string(n.Literal)) }, nil)
	case *ast.CodeBlock:
		lang := ""
		if f := strings.Fields(string(n.Info)); len(f) > 0 {
			lang = f[0]
		}
		w.span(models.MessageEntityTypePre, func() {
			w.write(strings.TrimRight(string(n.Literal), "\n"))
		}, func(e *models.MessageEntity) { e.Language = lang })
		w.blockBreak(n)
	case *ast.Link:
		dest := string(n.Destination)
		start := w.offset
		w.span(models.MessageEntityTypeTextLink, func() { w.children(n) }, func(e *models.MessageEntity) { e.URL = dest })
		if w.offset == start {
			w.write(dest)
		}
	case *ast.Text:
		w.write(string(n.Literal))
	case *ast.Softbreak, *ast.Hardbreak:
		w.write("\n")
	case *ast.HorizontalRule:
		w.write("----------")
		w.blockBreak(n)
	default:
		if len(n.GetChildren()) > 0 {
			w.children(n)
			return
		}
		if leaf := n.AsLeaf(); leaf != nil {
			w.write(string(leaf.Literal))
		}
	}
}

func (w *entityWriter) list(l *ast.List) {
	ordered := l.ListFlags&ast.ListTypeOrdered != 0
	index := max(l.Start, 1)

	items := l.GetChildren()
	for i, one := range items {
		item, ok := one.(*ast.ListItem)
		if !ok {
			continue
		}
		if ordered {
			w.write(strconv.Itoa(index) + ". ")
			index++
		} else {
			w.write("- ")
		}
		for j, c := range item.GetChildren() {
			if p, ok := c.(*ast.Paragraph); ok {
				w.children(p)
			} else {
				w.node(c)
			}
			if j < len(item.GetChildren())-1 {
				w.write("\n")
			}
		}
		if i < len(items)-1 {
			w.write("\n")
		}
	}
}
