/*
Package cfddns keeps Cloudflare address records pointed at the current public IP.

Usage will always start with [cfddns.New],
which takes the records to manage as a list of [Target] values
and a [Provider] implementation for the DNS provider.
Additional client configuration options are listed in the docs for New.

Each cycle resolves the public IP once and then overwrites the content of every target record,
even when it has not changed.
A record that cannot be found, or an update that fails, is reported for that target only
and never stops the remaining targets from being processed.
*/
package cfddns
