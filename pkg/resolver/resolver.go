// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package resolver resolves peer endpoint hostnames to literal addresses.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/siderolabs/tunnelctl/pkg/wgconfig"
)

// DefaultConcurrency bounds the number of lookups in flight for one batch.
const DefaultConcurrency = 8

// Lookuper resolves a hostname. *net.Resolver implements it.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolver resolves batches of endpoints.
type Resolver struct {
	lookuper    Lookuper
	logger      *zap.Logger
	concurrency int
}

// New returns a Resolver. A nil lookuper means net.DefaultResolver.
func New(lookuper Lookuper, logger *zap.Logger) *Resolver {
	if lookuper == nil {
		lookuper = net.DefaultResolver
	}

	return &Resolver{
		lookuper:    lookuper,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
}

// WithConcurrency returns a copy of r with a different lookup limit.
func (r *Resolver) WithConcurrency(n int) *Resolver {
	res := *r
	res.concurrency = max(1, n)

	return &res
}

// Result is the outcome for one endpoint: either a resolved Endpoint or Err.
type Result struct {
	Endpoint *wgconfig.Endpoint
	Err      error
}

// ResolveBatch resolves endpoints, preserving order. Nil endpoints yield nil results.
//
// Literal-address endpoints are returned as is. If every endpoint is literal, no lookup
// happens at all. Otherwise hostnames are looked up concurrently and ResolveBatch returns
// once all of them finish.
func (r *Resolver) ResolveBatch(ctx context.Context, endpoints []*wgconfig.Endpoint) []*Result {
	results := make([]*Result, len(endpoints))

	var pending []int

	for i, e := range endpoints {
		switch {
		case e == nil:
		case e.IsResolved():
			resolved := *e
			results[i] = &Result{Endpoint: &resolved}
		default:
			pending = append(pending, i)
		}
	}

	if len(pending) == 0 {
		return results
	}

	var eg errgroup.Group

	eg.SetLimit(r.concurrency)

	for _, i := range pending {
		e := endpoints[i]

		eg.Go(func() error {
			results[i] = r.resolve(ctx, *e)

			return nil
		})
	}

	eg.Wait() //nolint:errcheck

	return results
}

func (r *Resolver) resolve(ctx context.Context, e wgconfig.Endpoint) *Result {
	addrs, err := r.lookuper.LookupNetIP(ctx, "ip", e.Host)
	if err == nil && len(addrs) == 0 {
		err = errNoAddresses
	}

	if err != nil {
		r.logger.Warn("failed to resolve endpoint", zap.String("hostname", e.Host), zap.Error(err))

		return &Result{Err: &ResolutionError{Hostname: e.Host, Err: err}}
	}

	addr := pick(addrs)
	resolved := wgconfig.EndpointFromAddrPort(netip.AddrPortFrom(addr, e.Port))

	r.logger.Debug("resolved endpoint", zap.String("hostname", e.Host), zap.Stringer("endpoint", resolved))

	return &Result{Endpoint: &resolved}
}

// pick prefers the first IPv4 address, falling back to the first address.
func pick(addrs []netip.Addr) netip.Addr {
	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			return addr.Unmap()
		}
	}

	return addrs[0]
}

var errNoAddresses = errors.New("no addresses found")

// ResolutionError is the failure to resolve one hostname.
type ResolutionError struct {
	Hostname string
	Err      error
}

// Error implements error.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %q: %s", e.Hostname, e.Err)
}

// Unwrap returns the lookup error.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// BatchError lists every hostname of a batch that failed to resolve.
type BatchError struct {
	Errors []*ResolutionError
}

// Error implements error.
func (e *BatchError) Error() string {
	hostnames := make([]string, 0, len(e.Errors))

	for _, err := range e.Errors {
		hostnames = append(hostnames, err.Hostname)
	}

	return "DNS resolution failed for: " + strings.Join(hostnames, ", ")
}

// Unwrap returns the individual resolution errors.
func (e *BatchError) Unwrap() []error {
	res := make([]error, 0, len(e.Errors))

	for _, err := range e.Errors {
		res = append(res, err)
	}

	return res
}

// Errors aggregates the failures of a batch into a *BatchError, or nil if there are none.
func Errors(results []*Result) error {
	var batch BatchError

	for _, res := range results {
		if res == nil || res.Err == nil {
			continue
		}

		var resErr *ResolutionError

		if errors.As(res.Err, &resErr) {
			batch.Errors = append(batch.Errors, resErr)
		} else {
			batch.Errors = append(batch.Errors, &ResolutionError{Err: res.Err})
		}
	}

	if len(batch.Errors) == 0 {
		return nil
	}

	return &batch
}

// Endpoints returns the resolved endpoints of a batch, nil where resolution failed or
// there was no endpoint.
func Endpoints(results []*Result) []*wgconfig.Endpoint {
	res := make([]*wgconfig.Endpoint, len(results))

	for i, r := range results {
		if r != nil {
			res[i] = r.Endpoint
		}
	}

	return res
}
