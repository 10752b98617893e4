package oobi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/network/codec/cbor"
	"github.com/citadel-wallet/keysync/storage"
)

const (
	// Path is the route of out-of-band introductions, relative to the base URL.
	Path = "/oobi/{prefix}"

	// EndpointHeader carries the base URL messages for the identifier are posted to.
	EndpointHeader = "Keysync-Endpoint"

	contentType = "application/cbor"
)

// URL returns the introduction of prefix published under base.
func URL(base string, prefix kel.Prefix) string {
	return strings.TrimSuffix(base, "/") + "/oobi/" + prefix.String()
}

// PublisherStore is the part of the identity store the publisher reads.
type PublisherStore interface {
	storage.KeyStates
	storage.Events
}

// Publisher serves the key event logs of local identifiers so that other
// controllers can resolve them.
type Publisher struct {
	log      zerolog.Logger
	store    PublisherStore
	endpoint string
	codec    *cbor.Codec
}

func NewPublisher(log zerolog.Logger, store PublisherStore, endpoint string) *Publisher {
	return &Publisher{
		log:      log.With().Str("engine", "oobi_publisher").Logger(),
		store:    store,
		endpoint: endpoint,
		codec:    cbor.NewCodec(),
	}
}

func (p *Publisher) Register(router *mux.Router) {
	router.Methods(http.MethodGet).Path(Path).HandlerFunc(p.serve)
}

func (p *Publisher) serve(w http.ResponseWriter, r *http.Request) {
	prefix := kel.Prefix(mux.Vars(r)["prefix"])
	locals, err := p.store.Identifiers()
	if err != nil {
		p.log.Error().Err(err).Msg("could not list identifiers")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !locals.Contains(prefix) {
		http.Error(w, "unknown identifier", http.StatusNotFound)
		return
	}

	events, err := p.store.EventsFrom(prefix, 0)
	if err != nil {
		p.log.Error().Err(err).Str("aid", prefix.String()).Msg("could not read key event log")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	data, err := p.codec.Encode(&messages.EventReplay{Prefix: prefix, Events: events})
	if err != nil {
		p.log.Error().Err(err).Str("aid", prefix.String()).Msg("could not encode key event log")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set(EndpointHeader, p.endpoint)
	_, err = w.Write(data)
	if err != nil {
		p.log.Debug().Err(err).Msg("could not write introduction")
	}
}
