package cli

import (
	"fmt"
	"text/template"

	"github.com/iudanet/woodtime/internal/client/iocli"
	"github.com/iudanet/woodtime/internal/models"
)

var templateFuncs = template.FuncMap{
	"eventType": eventTypeName,
	"local":     models.IsTemporaryID,
}

func render(out iocli.IO, name, text string, data any) error {
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return tmpl.Execute(out, data)
}

const statusTemplate = `
=== Woodtime Status ===

{{- if .Session }}
User:        {{ .Session.Username }} ({{ .Session.UserID }})
{{- if .Expired }}
Session:     expired, run 'woodtime login'
{{- else }}
Session:     valid until {{ .ExpiresAt.Format "2006-01-02 15:04:05" }}
{{- end }}
{{- else }}
User:        not logged in
{{- end }}
{{- if .LastSynced.IsZero }}
Last sync:   never
{{- else }}
Last sync:   {{ .LastSynced.Format "2006-01-02 15:04:05" }}
{{- end }}

Pending push:
{{- range .Pending }}
  {{ printf "%-18s" .Collection }} {{ .Count }}
{{- end }}

Write queue: {{ .Queued }} queued, {{ .Errored }} failed
`

const syncResultTemplate = `✓ Synchronization completed
  Pushed:      {{ .Pushed }}
  Confirmed:   {{ .Confirmed }}
{{- if .Remapped }}
  New ids:     {{ .Remapped }}
{{- end }}
{{- if .Unconfirmed }}
  Unconfirmed: {{ .Unconfirmed }} (will be sent again)
{{- end }}
  Pulled:      {{ .Pulled }}
`

const eventTemplate = `
=== {{ .Name }} ===

ID:          {{ .ID }}{{ if local .ID }} (not synced yet){{ end }}
Type:        {{ eventType .Type }}
{{- if .CheckpointCount }}
Checkpoints: {{ .CheckpointCount }}
{{- end }}
{{- if .Strict }}
Order:       strict
{{- end }}
{{- if .Description }}
Description: {{ .Description }}
{{- end }}

`
