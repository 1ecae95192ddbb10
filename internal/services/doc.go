// Package services provides the centralized service registry for
// relevanced.
//
// Registry is an explicit dependency container: the store, embedder,
// usage tracker, flush scheduler, index refresher, context assembler,
// clusterer, and consolidator are constructed once in cmd/relevanced
// and passed by reference. There are no package-level singletons. Use
// NewRegistry() to create a registry with service instances, then
// accessor methods to retrieve individual services.
package services
