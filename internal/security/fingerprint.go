package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
)

// MachineIDLength is the number of hex characters in a machine identifier
const MachineIDLength = 16

// Machine identifier sources
const (
	SourceHost = "host" // OS host UUID, falling back to the MAC address
	SourceMAC  = "mac"  // primary network interface hardware address
)

// MachineIDProvider derives the identifier a license is bound to. The value
// is computed once and cached for the life of the provider.
type MachineIDProvider struct {
	source   string
	override string
	logger   *slog.Logger

	hostID     func(ctx context.Context) (string, error)
	interfaces func() ([]net.Interface, error)

	mu     sync.Mutex
	cached string
}

// NewMachineIDProvider creates a provider for the given source. A non-empty
// override is returned verbatim instead of probing the machine.
func NewMachineIDProvider(source, override string, logger *slog.Logger) (*MachineIDProvider, error) {
	switch source {
	case "":
		source = SourceHost
	case SourceHost, SourceMAC:
	default:
		return nil, fmt.Errorf("unsupported machine id source: %q", source)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MachineIDProvider{
		source:     source,
		override:   strings.TrimSpace(override),
		logger:     logger.With(slog.String("component", "machine_id")),
		hostID:     host.HostIDWithContext,
		interfaces: net.Interfaces,
	}, nil
}

// MachineID returns the identifier of the current machine
func (p *MachineIDProvider) MachineID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached, nil
	}

	if p.override != "" {
		p.cached = p.override
		p.logger.DebugContext(ctx, "Using configured machine id", slog.String("machine_id", p.cached))
		return p.cached, nil
	}

	raw, err := p.rawIdentifier(ctx)
	if err != nil {
		return "", err
	}

	p.cached = HashMachineID(raw)
	p.logger.InfoContext(ctx, "Machine id resolved",
		slog.String("source", p.source),
		slog.String("machine_id", p.cached),
	)
	return p.cached, nil
}

func (p *MachineIDProvider) rawIdentifier(ctx context.Context) (string, error) {
	if p.source == SourceHost {
		id, err := p.hostID(ctx)
		id = strings.ToLower(strings.TrimSpace(id))
		if err == nil && id != "" {
			return id, nil
		}
		p.logger.WarnContext(ctx, "Host id unavailable, falling back to MAC address",
			slog.Any("error", err),
		)
	}
	return p.macIdentifier(ctx)
}

// macIdentifier renders the primary hardware address as a decimal 48-bit
// integer, the form used by licenses minted against the node number.
func (p *MachineIDProvider) macIdentifier(ctx context.Context) (string, error) {
	ifaces, err := p.interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	mac := primaryHardwareAddr(ifaces)
	if mac == nil {
		return "", errors.New("no valid MAC address found")
	}

	p.logger.DebugContext(ctx, "MAC address selected", slog.String("mac", mac.String()))

	var node uint64
	for _, b := range mac[:6] {
		node = node<<8 | uint64(b)
	}
	return strconv.FormatUint(node, 10), nil
}

// primaryHardwareAddr prefers the first up, non-loopback interface and falls
// back to any interface with a non-zero 48-bit address.
func primaryHardwareAddr(ifaces []net.Interface) net.HardwareAddr {
	usable := func(addr net.HardwareAddr) bool {
		if len(addr) != 6 {
			return false
		}
		for _, b := range addr {
			if b != 0 {
				return true
			}
		}
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if usable(iface.HardwareAddr) {
			return iface.HardwareAddr
		}
	}
	for _, iface := range ifaces {
		if usable(iface.HardwareAddr) {
			return iface.HardwareAddr
		}
	}
	return nil
}

// HashMachineID shortens a raw hardware identifier to MachineIDLength hex chars
func HashMachineID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:MachineIDLength]
}

// ClearCache forgets the cached identifier
func (p *MachineIDProvider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = ""
}
