package standard

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// ExpiryWarningDays is how close to expiry a certificate must be to be
// reported as expiring.
const ExpiryWarningDays = 30

// CertificateMonitor tracks the X.509 certificates used to reach the
// debugger over mTLS.
type CertificateMonitor struct {
	mu       sync.RWMutex
	files    map[string]string // purpose -> path
	certs    map[string]*CertificateInfo
	lastScan time.Time
}

// CertificateInfo holds parsed certificate metadata
type CertificateInfo struct {
	Path            string    `json:"path"`
	Purpose         string    `json:"purpose"` // "client", "ca"
	Subject         string    `json:"subject"`
	Issuer          string    `json:"issuer"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	SANs            []string  `json:"sans"`
	IsExpired       bool      `json:"is_expired"`
	ExpiryWarning   bool      `json:"expiry_warning"`
}

// NewCertificateMonitor creates a monitor with no files to watch.
func NewCertificateMonitor() *CertificateMonitor {
	return &CertificateMonitor{
		files: make(map[string]string),
		certs: make(map[string]*CertificateInfo),
	}
}

// Watch adds a PEM file to the set parsed by Scan. An empty path is ignored.
func (cm *CertificateMonitor) Watch(purpose, path string) {
	if path == "" {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.files[purpose] = path
}

// Scan parses every watched file. All files are attempted; the first error
// is returned.
func (cm *CertificateMonitor) Scan() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.certs = make(map[string]*CertificateInfo)
	cm.lastScan = time.Now()

	var firstErr error
	for purpose, path := range cm.files {
		info, err := parseCertificateFile(path)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to parse %s certificate %s: %w", purpose, path, err)
			}
			continue
		}
		info.Purpose = purpose
		cm.certs[purpose] = info
	}

	return firstErr
}

// Certificate returns the parsed certificate for a purpose.
func (cm *CertificateMonitor) Certificate(purpose string) (*CertificateInfo, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	info, ok := cm.certs[purpose]
	return info, ok
}

// GetExpiringCertificates returns certificates expiring within the given
// number of days, ordered by expiry.
func (cm *CertificateMonitor) GetExpiringCertificates(withinDays int) []*CertificateInfo {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var expiring []*CertificateInfo
	for _, cert := range cm.certs {
		if cert.DaysUntilExpiry <= withinDays && !cert.IsExpired {
			expiring = append(expiring, cert)
		}
	}
	sort.Slice(expiring, func(i, j int) bool { return expiring[i].ValidUntil.Before(expiring[j].ValidUntil) })
	return expiring
}

// GetExpiredCertificates returns all expired certificates
func (cm *CertificateMonitor) GetExpiredCertificates() []*CertificateInfo {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var expired []*CertificateInfo
	for _, cert := range cm.certs {
		if cert.IsExpired {
			expired = append(expired, cert)
		}
	}
	return expired
}

// GetData returns the parsed certificates as plain data.
func (cm *CertificateMonitor) GetData() interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	certData := make(map[string]interface{})
	for purpose, info := range cm.certs {
		certData[purpose] = map[string]interface{}{
			"path":              info.Path,
			"subject":           info.Subject,
			"issuer":            info.Issuer,
			"valid_from":        info.ValidFrom.Format(time.RFC3339),
			"valid_until":       info.ValidUntil.Format(time.RFC3339),
			"days_until_expiry": info.DaysUntilExpiry,
			"sans":              info.SANs,
			"is_expired":        info.IsExpired,
			"expiry_warning":    info.ExpiryWarning,
		}
	}

	return map[string]interface{}{
		"last_scan":    cm.lastScan.Format(time.RFC3339),
		"certificates": certData,
	}
}

// parseCertificateFile reads and parses a PEM-encoded certificate file
func parseCertificateFile(path string) (*CertificateInfo, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	// Decode first PEM block (for a CA chain, this will be the first cert)
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := time.Now()
	daysUntilExpiry := int(time.Until(cert.NotAfter).Hours() / 24)
	isExpired := now.After(cert.NotAfter)

	var sans []string
	for _, dns := range cert.DNSNames {
		sans = append(sans, fmt.Sprintf("DNS:%s", dns))
	}
	for _, ip := range cert.IPAddresses {
		sans = append(sans, fmt.Sprintf("IP:%s", ip.String()))
	}

	return &CertificateInfo{
		Path:            path,
		Subject:         cert.Subject.String(),
		Issuer:          cert.Issuer.String(),
		ValidFrom:       cert.NotBefore,
		ValidUntil:      cert.NotAfter,
		DaysUntilExpiry: daysUntilExpiry,
		SANs:            sans,
		IsExpired:       isExpired,
		ExpiryWarning:   daysUntilExpiry <= ExpiryWarningDays && !isExpired,
	}, nil
}
