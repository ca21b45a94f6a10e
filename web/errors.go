package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/hazyhaar/accesspdf/docpipe"
	"github.com/hazyhaar/accesspdf/ingest"
	"github.com/hazyhaar/accesspdf/ocr"
)

var (
	errNoFile  = errors.New("web: no file in upload")
	errBadForm = errors.New("web: malformed upload form")
	errQueue   = errors.New("web: gave up waiting for a run slot")
)

// statusFor maps a check error to its HTTP status.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, ingest.ErrTooLarge), errors.Is(err, docpipe.ErrTooLarge), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrNotPDF), errors.Is(err, ingest.ErrEmpty),
		errors.Is(err, errNoFile), errors.Is(err, errBadForm):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errQueue), errors.Is(err, ocr.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the French message shown for err.
func userMessage(err error) string {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, ingest.ErrTooLarge), errors.Is(err, docpipe.ErrTooLarge), errors.As(err, &mbe):
		return "Le fichier est trop volumineux."
	case errors.Is(err, ingest.ErrNotPDF):
		return "Le fichier envoyé n'est pas un PDF."
	case errors.Is(err, ingest.ErrEmpty):
		return "Le fichier envoyé est vide."
	case errors.Is(err, errNoFile):
		return "Aucun fichier sélectionné."
	case errors.Is(err, errBadForm):
		return "Formulaire d'envoi invalide."
	case errors.Is(err, ingest.ErrNotFound):
		return "Fichier corrigé introuvable."
	case errors.Is(err, errQueue):
		return "Service occupé, veuillez réessayer."
	case errors.Is(err, ocr.ErrUnavailable):
		return "Moteur OCR indisponible : le document ne peut pas être analysé."
	case errors.Is(err, context.DeadlineExceeded):
		return "L'analyse a pris trop de temps."
	default:
		return "Une erreur est survenue pendant l'analyse du document."
	}
}
