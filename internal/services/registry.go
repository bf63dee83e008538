package services

import (
	"github.com/fyrsmithlabs/semantixd/internal/compression"
	"github.com/fyrsmithlabs/semantixd/internal/embeddings"
	"github.com/fyrsmithlabs/semantixd/internal/events"
	"github.com/fyrsmithlabs/semantixd/internal/identity"
	"github.com/fyrsmithlabs/semantixd/internal/ingest"
	"github.com/fyrsmithlabs/semantixd/internal/pipeline"
	"github.com/fyrsmithlabs/semantixd/internal/retrieval"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
	"github.com/fyrsmithlabs/semantixd/internal/worldview"
)

// Registry provides access to all semantixd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Pipeline() *pipeline.Pipeline
	Embeddings() *embeddings.Service
	Ingest() *ingest.Handlers
	Store() store.Store
	VectorStore() vectorstore.Store
	Bus() events.Bus
	Identity() identity.Provider
	WorldView() *worldview.Builder
	Retrieval() *retrieval.Engine
	Compression() compression.Compressor
	Admin() *Admin
}

// Options configures the registry with service instances.
type Options struct {
	Pipeline    *pipeline.Pipeline
	Embeddings  *embeddings.Service
	Ingest      *ingest.Handlers
	Store       store.Store
	VectorStore vectorstore.Store
	Bus         events.Bus
	Identity    identity.Provider
	WorldView   *worldview.Builder
	Retrieval   *retrieval.Engine
	Compression compression.Compressor
	Admin       *Admin
}

// registry is the concrete implementation of Registry.
type registry struct {
	pipeline    *pipeline.Pipeline
	embeddings  *embeddings.Service
	ingest      *ingest.Handlers
	store       store.Store
	vectorStore vectorstore.Store
	bus         events.Bus
	identity    identity.Provider
	worldView   *worldview.Builder
	retrieval   *retrieval.Engine
	compression compression.Compressor
	admin       *Admin
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		pipeline:    opts.Pipeline,
		embeddings:  opts.Embeddings,
		ingest:      opts.Ingest,
		store:       opts.Store,
		vectorStore: opts.VectorStore,
		bus:         opts.Bus,
		identity:    opts.Identity,
		worldView:   opts.WorldView,
		retrieval:   opts.Retrieval,
		compression: opts.Compression,
		admin:       opts.Admin,
	}
}

func (r *registry) Pipeline() *pipeline.Pipeline    { return r.pipeline }
func (r *registry) Embeddings() *embeddings.Service { return r.embeddings }
func (r *registry) Ingest() *ingest.Handlers        { return r.ingest }
func (r *registry) Store() store.Store              { return r.store }
func (r *registry) VectorStore() vectorstore.Store  { return r.vectorStore }
func (r *registry) Bus() events.Bus                 { return r.bus }
func (r *registry) Identity() identity.Provider     { return r.identity }
func (r *registry) WorldView() *worldview.Builder   { return r.worldView }
func (r *registry) Retrieval() *retrieval.Engine    { return r.retrieval }
func (r *registry) Compression() compression.Compressor {
	return r.compression
}
func (r *registry) Admin() *Admin { return r.admin }
