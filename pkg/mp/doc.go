// Package mp is a client for the official-account backend's listing
// endpoint and public article pages.
//
// Listing responses are a two-level envelope: base_resp plus a publish_page
// string holding JSON, whose publish_list entries each carry publish_info,
// another JSON string with the articles. DecodeListResponse unpacks both
// levels and turns a non-zero ret into a provider protocol error.
package mp
