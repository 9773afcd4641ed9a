// ABOUTME: Thread-safe TTL cache mapping client IPs to MAC addresses
// ABOUTME: Shared across connection workers; resolves misses from the OS ARP table

package arp

import (
	"bufio"
	"container/list"
	"os"
	"strings"
	"sync"
	"time"
)

// Resolver maps an IP address to a hardware address. The default reads the
// OS ARP table; tests inject their own.
type Resolver func(ip string) (string, bool)

// cacheEntry stores the resolved MAC and bookkeeping for a cached IP.
type cacheEntry struct {
	mac       string
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited IP-to-MAC cache. One Cache
// is shared by all connection workers; it is injected explicitly rather than
// hung off the handler type. Uses a doubly-linked list to maintain insertion
// order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // IPs in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	resolve Resolver
	done    chan struct{}
	closed  bool
}

// New creates an IP-to-MAC cache with the given TTL and maximum size.
// A nil resolver defaults to reading the OS ARP table. A background
// goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int, resolve Resolver) *Cache {
	if resolve == nil {
		resolve = resolveFromARPTable
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		resolve: resolve,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Lookup returns the MAC for ip, consulting the resolver on a miss or an
// expired entry. The second return is false when the IP cannot be resolved.
func (c *Cache) Lookup(ip string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[ip]
	if ok && time.Since(entry.timestamp) < c.ttl {
		mac := entry.mac
		c.mu.RUnlock()
		return mac, true
	}
	c.mu.RUnlock()

	mac, ok := c.resolve(ip)
	if !ok {
		return "", false
	}

	c.mu.Lock()
	c.storeLocked(ip, mac)
	c.mu.Unlock()
	return mac, true
}

// storeLocked inserts or refreshes an entry. Must be called with mu held.
func (c *Cache) storeLocked(ip, mac string) {
	now := time.Now()

	if entry, exists := c.entries[ip]; exists {
		entry.mac = mac
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(ip)
	c.entries[ip] = &cacheEntry{
		mac:       mac,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	ip, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, ip)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for ip, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, ip)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

const arpTablePath = "/proc/net/arp"

// resolveFromARPTable scans the kernel ARP table for ip. Entries with a
// zeroed hardware address or incomplete flags are treated as unresolved.
func resolveFromARPTable(ip string) (string, bool) {
	f, err := os.Open(arpTablePath)
	if err != nil {
		return "", false
	}
	defer f.Close()
	return scanARPTable(f, ip)
}

// scanARPTable parses /proc/net/arp content: IP, HW type, Flags, HW address,
// Mask, Device. Split out so tests can feed synthetic tables.
func scanARPTable(r interface{ Read([]byte) (int, error) }, ip string) (string, bool) {
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		flags, mac := fields[2], fields[3]
		if flags == "0x0" || mac == "00:00:00:00:00:00" {
			return "", false
		}
		return mac, true
	}
	return "", false
}
