package db

// DefaultVectorField is the schema alias every KNN query targets unless told otherwise.
const DefaultVectorField = "vector"

// TagFilter restricts a search to documents whose tag field equals one of Values.
// Multiple filters are ANDed.
type TagFilter struct {
	Field  string
	Values []string
}

// Tag is a shorthand for a single-value TagFilter.
func Tag(field string, values ...string) TagFilter {
	return TagFilter{Field: field, Values: values}
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // defaults to DefaultVectorField
	Filters      []TagFilter
	Vector       []float32
	K            int
	ReturnFields []string
}

// TagQuery is the input for a filtered, paginated listing.
type TagQuery struct {
	IndexName    string
	Filters      []TagFilter
	Offset       int
	Limit        int
	SortBy       string
	SortDesc     bool
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hit. Score is a similarity in [0,1] for KNN queries and 0 otherwise.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
