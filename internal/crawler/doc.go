// Package crawler discovers policy notices on portal list pages and fetches their
// detail bodies through a browser session.
//
// List pages hide detail identifiers behind inline script handlers and are
// occasionally replaced by a waiting-room interstitial. Fetching is strictly
// sequential over one browser tab with fixed politeness pauses; every retry loop
// is bounded.
package crawler
