package gallery

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/infra/fsx"
)

// Registrar 是平台媒体库（scanFile）的抽象：把资产登记到用户可浏览的图库里。
type Registrar interface {
	Register(ctx context.Context, a domain.Asset) error
}

const emptyIndex = `<!DOCTYPE html>
<html><head><meta charset="utf-8"/><title>camtag gallery</title></head>
<body><ul id="assets"></ul></body></html>
`

// HTMLIndex 把资产登记为一个静态 HTML 页面里的 <li data-asset=...> 条目。
//
// 约束：
// - 幂等：同名资产重复登记不会产生第二个条目
// - 整体替换写入（临时文件 + rename），读者永远看不到半个文件
type HTMLIndex struct {
	Path string

	mu sync.Mutex
}

func NewHTMLIndex(path string) *HTMLIndex {
	return &HTMLIndex{Path: filepath.Clean(strings.TrimSpace(path))}
}

// Entry 是索引中的一条记录。
type Entry struct {
	Name string
	Src  string
}

func (g *HTMLIndex) Register(ctx context.Context, a domain.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := filepath.Base(a.Path)
	if name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("资产路径无效：%q", a.Path)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.load()
	if err != nil {
		return err
	}
	list := doc.Find("ul#assets").First()
	if list.Length() == 0 {
		return fmt.Errorf("索引 %q 缺少 ul#assets", g.Path)
	}
	if findEntry(list, name).Length() > 0 {
		return nil
	}

	list.AppendHtml(entryHTML(name, g.src(a.Path), a))
	return g.save(doc)
}

// Remove 删除指定文件名的条目（retention 删除文件后调用）；不存在的名字忽略。
func (g *HTMLIndex) Remove(names ...string) error {
	if len(names) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := os.Stat(g.Path); os.IsNotExist(err) {
		return nil
	}
	doc, err := g.load()
	if err != nil {
		return err
	}
	list := doc.Find("ul#assets").First()
	removed := 0
	for _, n := range names {
		s := findEntry(list, n)
		removed += s.Length()
		s.Remove()
	}
	if removed == 0 {
		return nil
	}
	return g.save(doc)
}

// Entries 返回索引中的全部条目（按文件名排序）。索引不存在时返回空。
func (g *HTMLIndex) Entries() ([]Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.load()
	if err != nil {
		return nil, err
	}
	var out []Entry
	doc.Find("ul#assets > li[data-asset]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("data-asset")
		src, _ := s.Find("video").Attr("src")
		out = append(out, Entry{Name: name, Src: src})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *HTMLIndex) load() (*goquery.Document, error) {
	b, err := os.ReadFile(g.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		b = []byte(emptyIndex)
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(b))
}

func (g *HTMLIndex) save(doc *goquery.Document) error {
	out, err := doc.Html()
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(g.Path), filepath.Base(g.Path), []byte(out))
}

// src 优先使用相对索引文件的路径，便于整个目录被一起搬走。
func (g *HTMLIndex) src(assetPath string) string {
	if rel, err := filepath.Rel(filepath.Dir(g.Path), assetPath); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(assetPath)
}

func findEntry(list *goquery.Selection, name string) *goquery.Selection {
	return list.Find("li[data-asset]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("data-asset")
		return v == name
	})
}

func entryHTML(name, src string, a domain.Asset) string {
	caption := a.CreatedAt.Format(domain.StampLayout)
	if a.Location != nil {
		caption += "\n" + a.Location.Text()
	}
	return fmt.Sprintf(
		`<li data-asset="%s" data-resolution="%s"><video src="%s" controls="" preload="metadata"></video><pre class="stamp">%s</pre></li>`,
		html.EscapeString(name),
		html.EscapeString(string(a.Resolution)),
		html.EscapeString(src),
		html.EscapeString(caption),
	)
}
