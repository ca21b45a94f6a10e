package web

import (
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed static/style.css
var styleCSS []byte

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="fr"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>{{.Title}}</title>
<link rel="stylesheet" href="/static/style.css">
</head><body>
<h1>Vérificateur et correcteur d'accessibilité PDF</h1>
{{- with .Flash}}
<div class="flash {{.Type}}" role="alert">{{.Message}}</div>
{{- end}}
{{end}}

{{define "foot"}}
</body></html>{{end}}

{{define "index"}}{{template "head" .}}
<p>Analysez et corrigez automatiquement les problèmes d'accessibilité des fichiers PDF pour respecter les normes WCAG 2.1 niveau AA et RGAA 4.1.</p>
<form method="post" action="/check" enctype="multipart/form-data">
<label for="file">Choisissez un fichier PDF</label>
<input id="file" name="file" type="file" accept=".pdf,application/pdf" required>
<p class="meta">Taille maximale : {{.MaxUploadMB}} Mo.</p>
<button type="submit">Analyser</button>
</form>
{{template "foot"}}{{end}}

{{define "report"}}{{template "head" .}}
{{- with .Report}}
<div class="notice success" role="status">Fichier téléchargé avec succès !</div>
<p class="meta">{{if .FileName}}{{.FileName}} : {{end}}{{.Pages}} page(s){{if .OCRPages}}, OCR sur les pages {{range $i, $p := .OCRPages}}{{if $i}}, {{end}}{{$p}}{{end}}{{end}}.</p>
<h2>Rapport d'accessibilité</h2>
{{- range .Warnings}}
<div class="notice warning" role="status">{{.}}</div>
{{- end}}
{{- if .Issues}}
<div class="notice warning">Des problèmes ont été détectés et corrigés :</div>
<ul class="issues">
{{- range .Issues}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- else}}
<div class="notice success">Aucun problème détecté. Le document est conforme.</div>
{{- end}}
<a class="button" href="{{.DownloadURL}}" download="corrected.pdf">Télécharger le PDF corrigé</a>
<p><a href="/">Analyser un autre fichier</a></p>
{{- end}}
{{template "foot"}}{{end}}

{{define "error"}}{{template "head" .}}
<div class="notice error" role="alert">{{.Error}}</div>
<p><a href="/">Retour</a></p>
{{template "foot"}}{{end}}
`))

func render(w http.ResponseWriter, name string, status int, data *pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	pages.ExecuteTemplate(w, name, data)
}

func handleStyle(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(styleCSS)
}
