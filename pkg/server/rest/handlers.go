package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"lintang/railroute/pkg/server"
	"lintang/railroute/pkg/server/rest/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

type BuildService interface {
	StartBuild(ctx context.Context, relationID int64) (service.Build, error)
	Current(ctx context.Context) (service.Build, error)
	CancelCurrent(ctx context.Context) (service.Build, error)
	CurrentCurve(ctx context.Context) (string, []byte, error)
}

type RouteHandler struct {
	svc          BuildService
	promeMetrics *metrics
}

func RouteRouter(r *chi.Mux, svc BuildService, m *metrics) {
	handler := &RouteHandler{svc, m}

	r.Group(func(r chi.Router) {
		r.Route("/api/routes", func(r chi.Router) {
			r.Post("/builds", handler.startBuild)
			r.Get("/builds/current", handler.currentBuild)
			r.Delete("/builds/current", handler.cancelBuild)
			r.Get("/builds/current/curve.json.zst", handler.currentCurve)
			r.Get("/hello", handler.Hello)
		})
	})
}

// StartBuildRequest model info
//
//	@Description	request body to build the curve of one railway route relation
type StartBuildRequest struct {
	RelationID int64 `json:"relation_id" validate:"required,gt=0"`
}

func (s *StartBuildRequest) Bind(r *http.Request) error {
	if s.RelationID == 0 {
		return errors.New("invalid request")
	}
	return nil
}

// BuildResponse model info
//
//	@Description	state of the latest route build
type BuildResponse struct {
	service.Build
}

func NewBuildResponse(b service.Build) *BuildResponse {
	return &BuildResponse{b}
}

// startBuild
//
//	@Summary		start building the curve of a railway route relation.
//	@Description	start building the curve of a railway route relation. A build already running is cancelled.
//	@Tags			routes
//	@Param			body	body	StartBuildRequest	true	"relation to build"
//	@Accept			application/json
//	@Produce		application/json
//	@Router			/routes/builds [post]
//	@Success		202	{object}	BuildResponse
//	@Failure		400	{object}	ErrResponse
//	@Failure		500	{object}	ErrResponse
func (h *RouteHandler) startBuild(w http.ResponseWriter, r *http.Request) {
	data := &StartBuildRequest{}
	if err := render.Bind(r, data); err != nil {
		h.promeMetrics.buildRequestCount.WithLabelValues("false").Inc()
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	validate := validator.New()
	if err := validate.Struct(*data); err != nil {
		english := en.New()
		uni := ut.New(english, english)
		trans, _ := uni.GetTranslator("en")
		_ = enTranslations.RegisterDefaultTranslations(validate, trans)
		vv := translateError(err, trans)
		h.promeMetrics.buildRequestCount.WithLabelValues("false").Inc()
		render.Render(w, r, ErrValidation(err, vv))
		return
	}

	b, err := h.svc.StartBuild(r.Context(), data.RelationID)
	if err != nil {
		h.promeMetrics.buildRequestCount.WithLabelValues("false").Inc()
		render.Render(w, r, ErrChi(err))
		return
	}

	h.promeMetrics.buildRequestCount.WithLabelValues("true").Inc()
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, NewBuildResponse(b))
}

// currentBuild
//
//	@Summary		state and result of the latest route build.
//	@Tags			routes
//	@Produce		application/json
//	@Router			/routes/builds/current [get]
//	@Success		200	{object}	BuildResponse
//	@Failure		404	{object}	ErrResponse
func (h *RouteHandler) currentBuild(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Current(r.Context())
	if err != nil {
		render.Render(w, r, ErrChi(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, NewBuildResponse(b))
}

// cancelBuild
//
//	@Summary		cancel the latest route build.
//	@Tags			routes
//	@Produce		application/json
//	@Router			/routes/builds/current [delete]
//	@Success		200	{object}	BuildResponse
//	@Failure		404	{object}	ErrResponse
func (h *RouteHandler) cancelBuild(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.CancelCurrent(r.Context())
	if err != nil {
		render.Render(w, r, ErrChi(err))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, NewBuildResponse(b))
}

// currentCurve
//
//	@Summary		zstd compressed json curve of the latest finished build.
//	@Tags			routes
//	@Produce		application/zstd
//	@Router			/routes/builds/current/curve.json.zst [get]
//	@Success		200
//	@Failure		404	{object}	ErrResponse
//	@Failure		409	{object}	ErrResponse
func (h *RouteHandler) currentCurve(w http.ResponseWriter, r *http.Request) {
	id, bb, err := h.svc.CurrentCurve(r.Context())
	if err != nil {
		render.Render(w, r, ErrChi(err))
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.curve.json.zst"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bb)
}

func (h *RouteHandler) Hello(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, "Hello, World!")
}

// ErrResponse model info
//
//	@Description	model untuk error response
type ErrResponse struct {
	Err            error `json:"-"` // low-level runtime error
	HTTPStatusCode int   `json:"-"` // http response status code

	StatusText    string   `json:"status"`          // user-level status message
	AppCode       int64    `json:"code,omitempty"`  // application-specific error code
	ErrorText     string   `json:"error,omitempty"` // application-level error message, for debugging
	ErrValidation []string `json:"validation,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrValidation(err error, errV []error) render.Renderer {
	vv := []string{}
	for _, v := range errV {
		vv = append(vv, v.Error())
	}
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 400,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
		ErrValidation:  vv,
	}
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 400,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

func ErrChi(err error) render.Renderer {
	statusText := ""
	switch getStatusCode(err) {
	case http.StatusNotFound:
		statusText = "Resource not found."
	case http.StatusInternalServerError:
		statusText = "Internal server error."
	case http.StatusConflict:
		statusText = "Resource conflict."
	case http.StatusBadRequest:
		statusText = "Bad request."
	default:
		statusText = "Error."
	}

	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: getStatusCode(err),
		StatusText:     statusText,
		ErrorText:      err.Error(),
	}
}

func getStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ierr *server.Error
	if !errors.As(err, &ierr) {
		return http.StatusInternalServerError
	} else {
		switch ierr.Code() {
		case server.ErrInternalServerError:
			return http.StatusInternalServerError
		case server.ErrNotFound:
			return http.StatusNotFound
		case server.ErrConflict:
			return http.StatusConflict
		case server.ErrBadParamInput:
			return http.StatusBadRequest
		default:
			return http.StatusInternalServerError
		}
	}

}

func translateError(err error, trans ut.Translator) (errs []error) {
	if err == nil {
		return nil
	}
	var validatorErrs validator.ValidationErrors
	if !errors.As(err, &validatorErrs) {
		return []error{err}
	}
	for _, e := range validatorErrs {
		errs = append(errs, errors.New(e.Translate(trans)))
	}
	return errs
}
