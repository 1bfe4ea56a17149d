package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/sessionindex/internal/storage"
	"github.com/dshills/sessionindex/pkg/types"
)

// SearchMode selects which full-text index is queried
type SearchMode string

const (
	SearchModeAll      SearchMode = "all"      // Sessions + tool-IO with RRF
	SearchModeSessions SearchMode = "sessions" // Conversation text only
	SearchModeToolIO   SearchMode = "tool_io"  // Tool input/output only
)

const (
	defaultLimit     = 10
	maxLimit         = 100
	defaultCacheSize = 1000
	defaultCacheTTL  = time.Hour
	defaultRRF       = 60
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query       string
	Limit       int
	Mode        SearchMode
	Sources     []types.Source
	Since       time.Time
	UseCache    bool // Whether to use query cache
	CacheTTL    time.Duration
	RRFConstant float64 // k value for Reciprocal Rank Fusion (default 60)
}

// Result is one matched session
type Result struct {
	Rank      int
	Score     float64 // BM25 in single-index modes, RRF in SearchModeAll
	Source    types.Source
	SessionID string
	Path      string
	Title     string
	Snippet   string
	Reference time.Time
	MatchedIn []SearchMode // Indexes the session matched in
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results        []Result
	TotalResults   int
	SearchMode     SearchMode
	Duration       time.Duration
	CacheHit       bool
	SessionResults int
	ToolIOResults  int
}

// RollupRequest narrows a rollup query. Empty fields match everything.
type RollupRequest struct {
	Sources []types.Source
	From    string // Inclusive, types.DayLayout
	To      string // Inclusive, types.DayLayout
}

// RollupResponse holds per-day rollups and their totals
type RollupResponse struct {
	Rollups []*storage.Rollup
	Totals  storage.Rollup // Day and Source are left empty
}

// SessionDetail is a stored session with its per-day rows
type SessionDetail struct {
	Meta *storage.SessionMeta
	Days []types.DayRollupRow
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher answers queries against the index
type Searcher struct {
	storage storage.Storage
	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
	now     func() time.Time
}

// NewSearcher creates a new Searcher instance
func NewSearcher(storage storage.Storage) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](defaultCacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage: storage,
		cache:   cache,
		now:     time.Now,
	}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := s.now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = s.now().Sub(startTime)
			return cached, nil
		}
	}

	var response *SearchResponse
	var err error

	switch req.Mode {
	case SearchModeAll:
		response, err = s.fusedSearch(ctx, req)
	case SearchModeSessions, SearchModeToolIO:
		response, err = s.singleSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = s.now().Sub(startTime)
	response.SearchMode = req.Mode

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

func (s *Searcher) filters(req SearchRequest, limit int) *storage.SearchFilters {
	return &storage.SearchFilters{Sources: req.Sources, Since: req.Since, Limit: limit}
}

func (s *Searcher) query(ctx context.Context, mode SearchMode, req SearchRequest, limit int) ([]storage.SearchHit, error) {
	if mode == SearchModeToolIO {
		return s.storage.SearchToolIO(ctx, req.Query, s.filters(req, limit))
	}
	return s.storage.SearchSessions(ctx, req.Query, s.filters(req, limit))
}

// singleSearch queries one index and keeps its BM25 order
func (s *Searcher) singleSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hits, err := s.query(ctx, req.Mode, req, req.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = resultFromHit(hit, i+1, hit.Score, req.Mode)
	}

	resp := &SearchResponse{Results: results, TotalResults: len(results)}
	if req.Mode == SearchModeToolIO {
		resp.ToolIOResults = len(hits)
	} else {
		resp.SessionResults = len(hits)
	}
	return resp, nil
}

type hitsResult struct {
	hits []storage.SearchHit
	err  error
}

// fusedSearch queries both indexes concurrently and merges them with
// Reciprocal Rank Fusion, so a session matching in both ranks first
func (s *Searcher) fusedSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	sessionChan := make(chan hitsResult, 1)
	toolChan := make(chan hitsResult, 1)

	run := func(mode SearchMode, out chan<- hitsResult) {
		hits, err := s.query(ctx, mode, req, req.Limit*2)
		out <- hitsResult{hits: hits, err: err}
	}
	go run(SearchModeSessions, sessionChan)
	go run(SearchModeToolIO, toolChan)

	var sessionRes, toolRes hitsResult
	var sessionDone, toolDone bool
	for !sessionDone || !toolDone {
		select {
		case sessionRes = <-sessionChan:
			sessionDone = true
		case toolRes = <-toolChan:
			toolDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Allow one index to fail
	if sessionRes.err != nil && toolRes.err != nil {
		return nil, fmt.Errorf("both searches failed: sessions=%w, tool_io=%v", sessionRes.err, toolRes.err)
	}

	results := applyRRF(sessionRes.hits, toolRes.hits, req.RRFConstant)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return &SearchResponse{
		Results:        results,
		TotalResults:   len(results),
		SessionResults: len(sessionRes.hits),
		ToolIOResults:  len(toolRes.hits),
	}, nil
}

type sessionKey struct {
	source types.Source
	id     string
}

// applyRRF fuses two ranked hit lists. RRF(d) = Σ 1/(k + rank(d)).
// The session-text hit supplies the snippet when both lists match.
func applyRRF(sessionHits, toolHits []storage.SearchHit, k float64) []Result {
	if k == 0 {
		k = defaultRRF
	}

	merged := make(map[sessionKey]*Result)
	var order []sessionKey
	add := func(hits []storage.SearchHit, mode SearchMode) {
		for rank, hit := range hits {
			key := sessionKey{hit.Source, hit.SessionID}
			r, ok := merged[key]
			if !ok {
				res := resultFromHit(hit, 0, 0, mode)
				res.MatchedIn = nil
				r = &res
				merged[key] = r
				order = append(order, key)
			}
			r.Score += 1.0 / (k + float64(rank+1))
			r.MatchedIn = append(r.MatchedIn, mode)
		}
	}
	add(sessionHits, SearchModeSessions)
	add(toolHits, SearchModeToolIO)

	results := make([]Result, 0, len(order))
	for _, key := range order {
		results = append(results, *merged[key])
	}
	sortResults(results)
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func resultFromHit(hit storage.SearchHit, rank int, score float64, mode SearchMode) Result {
	return Result{
		Rank:      rank,
		Score:     score,
		Source:    hit.Source,
		SessionID: hit.SessionID,
		Path:      hit.Path,
		Title:     hit.Title,
		Snippet:   hit.Snippet,
		Reference: hit.Reference,
		MatchedIn: []SearchMode{mode},
	}
}

// sortResults orders by fused score, newest session first on ties
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Reference.After(results[j].Reference)
	})
}

// Rollups returns per-day rollups in day order along with their totals
func (s *Searcher) Rollups(ctx context.Context, req RollupRequest) (*RollupResponse, error) {
	for _, day := range []string{req.From, req.To} {
		if day == "" {
			continue
		}
		if _, err := time.Parse(types.DayLayout, day); err != nil {
			return nil, fmt.Errorf("invalid day %q: want YYYY-MM-DD", day)
		}
	}
	if req.From != "" && req.To != "" && req.From > req.To {
		return nil, fmt.Errorf("from %s is after to %s", req.From, req.To)
	}

	rollups, err := s.storage.ListRollups(ctx, storage.RollupFilter{Sources: req.Sources, FromDay: req.From, ToDay: req.To})
	if err != nil {
		return nil, err
	}

	resp := &RollupResponse{Rollups: rollups}
	for _, r := range rollups {
		resp.Totals.Sessions += r.Sessions
		resp.Totals.Messages += r.Messages
		resp.Totals.Commands += r.Commands
		resp.Totals.DurationSeconds += r.DurationSeconds
	}
	return resp, nil
}

// Session looks up one indexed session and its per-day rows
func (s *Searcher) Session(ctx context.Context, source types.Source, sessionID string) (*SessionDetail, error) {
	meta, err := s.storage.GetSessionMeta(ctx, source, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("session %s/%s: %w", source, sessionID, err)
		}
		return nil, err
	}
	days, err := s.storage.ListDayRows(ctx, source, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{Meta: meta, Days: days}, nil
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}

	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}

	if req.Mode == "" {
		req.Mode = SearchModeAll
	}

	if req.RRFConstant == 0 {
		req.RRFConstant = defaultRRF
	}

	if req.CacheTTL == 0 {
		req.CacheTTL = defaultCacheTTL
	}

	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)
	now := s.now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: s.now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]Result, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		dst.Results[i].MatchedIn = append([]SearchMode(nil), result.MatchedIn...)
	}
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d|%.2f", req.Limit, req.RRFConstant))

	names := make([]string, len(req.Sources))
	for i, src := range req.Sources {
		names[i] = src.String()
	}
	sort.Strings(names)
	data.WriteString("|sources:")
	data.WriteString(strings.Join(names, ","))

	if !req.Since.IsZero() {
		data.WriteString("|since:")
		data.WriteString(req.Since.UTC().Format(time.RFC3339Nano))
	}

	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached query. Called after each indexing run.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached queries
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
