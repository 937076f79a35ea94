// Package transport 负责把主机名解析为候选地址并建立到 pool 服务端的 TCP 连接
package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Family 地址族
type Family int

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

func (f Family) String() string {
	if f == FamilyIPv4 {
		return "ipv4"
	}
	return "ipv6"
}

// Candidate 一个可尝试连接的地址
type Candidate struct {
	Addr netip.AddrPort
}

// Family 返回候选地址的地址族
func (c Candidate) Family() Family {
	if c.Addr.Addr().Unmap().Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

func (c Candidate) String() string {
	return c.Addr.String()
}

// Resolver 把主机和端口解析为候选地址
type Resolver interface {
	LookupCandidates(ctx context.Context, host string, port uint16) ([]Candidate, error)
}

// SystemResolver 使用系统解析器
type SystemResolver struct {
	Resolver *net.Resolver
}

// LookupCandidates 解析 host，返回的候选地址保持解析器给出的顺序
func (r SystemResolver) LookupCandidates(ctx context.Context, host string, port uint16) ([]Candidate, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []Candidate{{Addr: netip.AddrPortFrom(ip.Unmap(), port)}}, nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}

	seen := make(map[netip.Addr]bool, len(addrs))
	out := make([]Candidate, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, Candidate{Addr: netip.AddrPortFrom(a, port)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return out, nil
}

// SortCandidates 稳定排序，IPv4 在前，同一地址族内保持原顺序
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Family() == FamilyIPv4 && cs[j].Family() != FamilyIPv4
	})
}

// CachingResolver 在另一个 Resolver 之上缓存解析结果
type CachingResolver struct {
	next  Resolver
	cache *expirable.LRU[string, []Candidate]
}

// NewCachingResolver size 为缓存条目数，ttl 为每条结果的有效期
func NewCachingResolver(next Resolver, size int, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:  next,
		cache: expirable.NewLRU[string, []Candidate](size, nil, ttl),
	}
}

func (r *CachingResolver) LookupCandidates(ctx context.Context, host string, port uint16) ([]Candidate, error) {
	key := net.JoinHostPort(host, strconv.Itoa(int(port)))
	if cs, ok := r.cache.Get(key); ok {
		return append([]Candidate(nil), cs...), nil
	}
	cs, err := r.next.LookupCandidates(ctx, host, port)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, append([]Candidate(nil), cs...))
	return cs, nil
}

// Purge 清空缓存
func (r *CachingResolver) Purge() {
	r.cache.Purge()
}
