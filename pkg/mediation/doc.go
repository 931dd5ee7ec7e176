// Package mediation correlates the two halves of a cached exchange.
//
// A pipeline runs a Finder Coordinator on each request and a Collector
// Coordinator on the matching response. Both share the cache and store of
// their cache id through a cache.Registry:
//
//	reg := cache.NewRegistry()
//	finder, _ := mediation.New(reg, mediation.Config{CacheID: "orders"})
//	collector, _ := mediation.New(reg, mediation.Config{CacheID: "orders", Collector: true})
//
//	ex := mediation.NewExchange(request)
//	if cont, err := finder.Mediate(ctx, ex); err != nil || !cont {
//		// answered from cache (ex.Answered()) or failed
//	}
//	ex.Message = response
//	collector.Mediate(ctx, ex)
//
// The Finder plants a CorrelationToken in the exchange; the Collector reads it
// back. When the Collector runs on another cluster member, it recovers the
// token from replicated exchange state (see WithStateLoader).
//
// Exchanges sharing a fingerprint share one CacheEntry. Their Populate and
// Clean calls are individually atomic but not ordered: the last writer wins.
package mediation
