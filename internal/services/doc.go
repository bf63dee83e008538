// Package services provides the centralized service registry for semantixd.
//
// Registry pattern for accessing all core services (pipeline, embeddings,
// ingestion, stores, event bus, admin). Use NewRegistry() to create a
// registry with service instances, then accessor methods to retrieve
// individual services.
package services
