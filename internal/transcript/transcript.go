// ABOUTME: Renders a thread's items as a standalone HTML transcript
// ABOUTME: Assistant replies are Markdown and are converted with goldmark

package transcript

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/tomifer13/EndoBot/internal/store"
)

//go:embed templates/transcript.html
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/transcript.html"))

// markdown renders GFM without passing raw HTML through.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

type itemView struct {
	Seq       int64
	Role      string
	Label     string
	CreatedAt time.Time
	Body      template.HTML
}

type pageView struct {
	Title    string
	ThreadID string
	Exported time.Time
	Items    []itemView
}

// Render writes the transcript of thread with items in the given order.
func Render(w io.Writer, thread *store.Thread, items []store.Item, now time.Time) error {
	view := pageView{
		Title:    "Conversa",
		ThreadID: thread.ID,
		Exported: now,
		Items:    make([]itemView, 0, len(items)),
	}
	if title := thread.Metadata["title"]; title != "" {
		view.Title = title
	}

	for _, item := range items {
		body, err := renderItem(&item)
		if err != nil {
			return fmt.Errorf("rendering item %s: %w", item.ID, err)
		}
		view.Items = append(view.Items, itemView{
			Seq:       item.Seq,
			Role:      string(item.Role),
			Label:     label(item.Role),
			CreatedAt: item.CreatedAt,
			Body:      body,
		})
	}

	return page.Execute(w, view)
}

// renderItem converts assistant text as Markdown. User text is shown as typed.
func renderItem(item *store.Item) (template.HTML, error) {
	text := item.Text()
	if item.Role != store.RoleAssistant {
		return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>"), nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func label(r store.Role) string {
	if r == store.RoleAssistant {
		return "Assistente"
	}
	return "Você"
}
