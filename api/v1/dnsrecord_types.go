package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
)

// DNSRecordSpec is the desired state of one record in the managed zone.
type DNSRecordSpec struct {
	// +kubebuilder:validation:Enum=A;AAAA
	// +kubebuilder:default=A
	// +optional
	Type string `json:"type,omitempty"`

	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Content is the record address. Empty means the observed public address.
	// +optional
	Content string `json:"content,omitempty"`

	// +optional
	Proxied bool `json:"proxied,omitempty"`
}

// DNSRecordStatus is the last observed state of the record.
type DNSRecordStatus struct {
	// RecordID is the provider's identifier, copied from the zone listing.
	// +optional
	RecordID string `json:"recordID,omitempty"`
	// +optional
	Outcome string `json:"outcome,omitempty"`
	// +optional
	Message string `json:"message,omitempty"`
	// +optional
	Content string `json:"content,omitempty"`
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
	// +optional
	LastReconcileTime *metav1.Time `json:"lastReconcileTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Name",type=string,JSONPath=`.spec.name`
// +kubebuilder:printcolumn:name="Type",type=string,JSONPath=`.spec.type`
// +kubebuilder:printcolumn:name="Outcome",type=string,JSONPath=`.status.outcome`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// DNSRecord is the Schema for the dnsrecords API.
type DNSRecord struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   DNSRecordSpec   `json:"spec,omitempty"`
	Status DNSRecordStatus `json:"status,omitempty"`
}

// Record returns the provider record this object asks for.
func (r *DNSRecord) Record() dns.Record {
	return dns.Record{
		Name:    dns.CanonicalName(r.Spec.Name),
		Type:    dns.CanonicalType(r.Spec.Type),
		Content: r.Spec.Content,
		Proxied: r.Spec.Proxied,
	}
}

// +kubebuilder:object:root=true

// DNSRecordList contains a list of DNSRecord.
type DNSRecordList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []DNSRecord `json:"items"`
}

func init() {
	SchemeBuilder.Register(&DNSRecord{}, &DNSRecordList{})
}
