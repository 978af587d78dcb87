// Package analytics builds and queries per-merchant campaign graphs from
// recipient email histories: merchant identification by root domain, campaign
// dedup by subject hash, recipient path maintenance, DAG level assignment,
// transition and branch analyses, and new-user partitioning.
//
// The service coordinates the repository layer; graph analyses are pure
// functions over loaded path snapshots and never hold references across
// transactions.
package analytics
