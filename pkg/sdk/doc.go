// Package mathroute provides a Go client for the mathroute HTTP API.
//
// The service answers math questions through a tiered fallback chain
// (cache, knowledge base, web search, generative model, human review)
// and learns from user feedback.
//
//	client, _ := mathroute.New("http://localhost:8080", mathroute.WithAPIKey(key))
//	ans, _ := client.Route(ctx, "What is the derivative of x^2?")
//	fmt.Println(ans.Route, ans.Answer)
//
//	_, _ = client.Feedback(ctx, mathroute.Feedback{TraceID: ans.TraceID, Verdict: "helpful"})
//
// Errors returned by the server are *APIError values and match the sentinels
// in this package through errors.Is:
//
//	if errors.Is(err, mathroute.ErrStoreUnavailable) { retry() }
package mathroute
