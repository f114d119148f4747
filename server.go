package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"biin_lookup/mobicard"
	"biin_lookup/utils"

	httputils "github.com/3bl3gamer/go-http-utils"
	"github.com/ansel1/merry"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxKeyEnv = ctxKey("env")
const CtxKeyLookuper = ctxKey("lookuper")

type Lookuper interface {
	Lookup(ctx context.Context, cardInput string) mobicard.LookupResult
}

func HandleAPILookup(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	var params struct {
		CardInput string `json:"card_input"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(wr, r.Body, 4096)).Decode(&params); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("wrong lookup request body")
		return httputils.JsonError{Code: 400, Error: "WRONG_REQUEST_BODY"}, nil
	}
	cardInput := strings.TrimSpace(params.CardInput)
	if cardInput == "" {
		return httputils.JsonError{Code: 400, Error: "MISSING_VALUE_CARD_INPUT"}, nil
	}

	lookuper := r.Context().Value(CtxKeyLookuper).(Lookuper)
	res := lookuper.Lookup(r.Context(), cardInput)
	if !res.IsSuccess() {
		zerolog.Ctx(r.Context()).Info().Str("kind", string(res.ErrorKind)).Str("code", res.StatusCode).
			Str("message", res.Message()).Msg("lookup failed")
	}
	return res, nil
}

func StartHTTPServer(lookuper Lookuper, env utils.Env, address string) error {
	// Config
	wrapper := &httputils.Wrapper{
		ShowErrorDetails: env.IsDev(),
		ExtraChainItem: func(handle httputils.HandlerExt) httputils.HandlerExt {
			return func(wr http.ResponseWriter, r *http.Request, params httprouter.Params) error {
				logger := log.With().Str("request_id", uuid.NewString()).Logger()
				logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
				r = r.WithContext(logger.WithContext(r.Context()))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyEnv, env))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyLookuper, lookuper))
				return merry.Wrap(handle(wr, r, params))
			}
		},
		LogError: func(err error, r *http.Request) {
			log.Error().Stack().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("")
		},
	}

	router := httprouter.New()
	route := func(method, path string, chain ...interface{}) {
		router.Handle(method, path, wrapper.WrapChain(chain...))
	}

	// Routes
	route("POST", "/api/lookup", HandleAPILookup)

	if env.IsDev() {
		route("GET", "/api/explode", func(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
			return nil, merry.New("test API error")
		})
	}

	// Server
	log.Info().Str("address", address).Msg("starting server")
	return merry.Wrap(http.ListenAndServe(address, router))
}
