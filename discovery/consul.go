package discovery

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/lcx/fastrpc/log"
)

// ConsulRegistry implements Registry on the consul agent API. Registrations
// use a TTL health check renewed by a background goroutine, so an instance
// that dies without deregistering drops out of discovery after the TTL.
type ConsulRegistry struct {
	client *api.Client

	mu       sync.Mutex
	renewals map[string]chan struct{}
}

// NewConsulRegistry connects to the consul agent at addr. Empty addr selects
// the standard local agent address.
func NewConsulRegistry(addr string) (*ConsulRegistry, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulRegistry{
		client:   client,
		renewals: make(map[string]chan struct{}),
	}, nil
}

// Register Registry interface.
func (r *ConsulRegistry) Register(serviceName string, instance ServiceInstance, ttlSeconds int) error {
	if ttlSeconds <= 0 {
		ttlSeconds = 10
	}
	id := instance.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s", serviceName, instance.Addr)
	}

	host, port, err := splitAddr(instance.Addr)
	if err != nil {
		return err
	}

	checkID := "service:" + id
	reg := &api.AgentServiceRegistration{
		ID:      id,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			CheckID:                        checkID,
			TTL:                            fmt.Sprintf("%ds", ttlSeconds),
			DeregisterCriticalServiceAfter: fmt.Sprintf("%ds", ttlSeconds*3),
		},
	}
	if err := r.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("consul register: %w", err)
	}

	// first pass before the TTL window opens
	if err := r.client.Agent().UpdateTTL(checkID, "", api.HealthPassing); err != nil {
		return fmt.Errorf("consul ttl: %w", err)
	}

	stop := make(chan struct{})
	r.mu.Lock()
	r.renewals[id] = stop
	r.mu.Unlock()

	go r.serveRenew(checkID, time.Duration(ttlSeconds)*time.Second/2, stop)
	return nil
}

func (r *ConsulRegistry) serveRenew(checkID string, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.client.Agent().UpdateTTL(checkID, "", api.HealthPassing); err != nil {
				log.Warn().Str("checkID", checkID).Err(err).Msg("consul ttl renew fail")
			}
		}
	}
}

// Deregister Registry interface.
func (r *ConsulRegistry) Deregister(serviceName string, instanceID string) error {
	r.mu.Lock()
	if stop, ok := r.renewals[instanceID]; ok {
		close(stop)
		delete(r.renewals, instanceID)
	}
	r.mu.Unlock()

	if err := r.client.Agent().ServiceDeregister(instanceID); err != nil {
		return fmt.Errorf("consul deregister: %w", err)
	}
	return nil
}

// Discover Registry interface.
func (r *ConsulRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	entries, _, err := r.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("consul discover: %w", err)
	}

	instances := make([]ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		instances = append(instances, ServiceInstance{
			ID:   entry.Service.ID,
			Addr: fmt.Sprintf("%s:%d", entry.Service.Address, entry.Service.Port),
		})
	}
	return instances, nil
}

// Close Registry interface.
func (r *ConsulRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, stop := range r.renewals {
		close(stop)
		delete(r.renewals, id)
	}
	return nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("bad addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("addr %q bad port: %w", addr, err)
	}
	return host, port, nil
}
