package searcher

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	unit      string
	response  *SearchResponse
	expiresAt time.Time
}

// checkCache looks up cached search results. Expired entries are removed.
func (s *Searcher) checkCache(key [32]byte) *SearchResponse {
	now := s.now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// cacheEpoch returns the invalidation epoch of a unit. Read it before
// querying storage and hand it to storeInCache.
func (s *Searcher) cacheEpoch(unit string) uint64 {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.epochs[unit] + s.purges
}

// storeInCache saves a deep copy of response under key, unless the unit
// was invalidated since epoch was read: the response may predate a commit.
func (s *Searcher) storeInCache(key [32]byte, unit string, epoch uint64, response *SearchResponse) bool {
	entry := &cacheEntry{
		unit:      unit,
		response:  copySearchResponse(response),
		expiresAt: s.now().Add(s.opts.CacheTTL),
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.epochs[unit]+s.purges != epoch {
		s.logger.Debug("project re-indexed during search, not caching", zap.String("unit", unit))
		return false
	}
	s.cache.Add(key, entry)
	return true
}

// InvalidateProject drops every cached response of one project and
// returns how many were removed
func (s *Searcher) InvalidateProject(projectPath string) int {
	unit, err := storage.UnitID(projectPath)
	if err != nil {
		return 0
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.epochs[unit]++
	removed := 0
	for _, key := range s.cache.Keys() {
		if entry, ok := s.cache.Peek(key); ok && entry.unit == unit {
			s.cache.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("invalidated cached searches",
			zap.String("project", projectPath),
			zap.Int("entries", removed))
	}
	return removed
}

// Purge empties the cache
func (s *Searcher) Purge() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.purges++
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached responses, expired ones included
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	// Node holds only value fields, so copying the slice copies the nodes
	dst.Results = make([]types.Node, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash computes the cache key of a validated request
func computeQueryHash(unit string, req *SearchRequest, terms []storage.Term) [32]byte {
	var data strings.Builder
	data.WriteString(unit)
	data.WriteString("|")
	data.WriteString(normalizeTerms(terms))
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(string(req.NodeType))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d|%t", req.Limit, req.UseFullText))

	return sha256.Sum256([]byte(data.String()))
}
