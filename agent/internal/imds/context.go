package imds

import (
	"fmt"
	"strings"
)

// Mode says whether the host is a standalone VM or a scale-set member.
type Mode int

const (
	Standalone Mode = iota
	ScaleSetMember
)

func (m Mode) String() string {
	if m == ScaleSetMember {
		return "scale_set_member"
	}
	return "standalone"
}

// ResourceContext identifies the Azure resource metrics are attached to.
type ResourceContext struct {
	Mode           Mode
	SubscriptionID string
	ResourceGroup  string
	// ResourceName is the VM name. For scale-set members it is the instance
	// name as reported by the metadata service.
	ResourceName string
	Location     string
	ScaleSetName string
	InstanceID   string
}

// ResourceURI returns the ARM resource ID of the metrics target: the scale
// set for members, the VM otherwise.
func (rc ResourceContext) ResourceURI() string {
	if rc.Mode == ScaleSetMember {
		return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachineScaleSets/%s",
			rc.SubscriptionID, rc.ResourceGroup, rc.ScaleSetName)
	}
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Compute/virtualMachines/%s",
		rc.SubscriptionID, rc.ResourceGroup, rc.ResourceName)
}

// IngestionURL returns the custom metrics endpoint for the resource. An
// empty base selects https://{location}.monitoring.azure.com.
func (rc ResourceContext) IngestionURL(base string) string {
	if base == "" {
		base = "https://" + rc.Location + ".monitoring.azure.com"
	}
	return strings.TrimRight(base, "/") + rc.ResourceURI() + "/metrics"
}

// VMName is the per-instance dimension value for scale-set members, empty
// for standalone VMs.
func (rc ResourceContext) VMName() string {
	if rc.Mode != ScaleSetMember || rc.InstanceID == "" {
		return ""
	}
	return rc.ScaleSetName + "_" + rc.InstanceID
}

// Validate reports the first identity field needed to build a resource URI
// that is missing.
func (rc ResourceContext) Validate() error {
	switch {
	case rc.SubscriptionID == "":
		return fmt.Errorf("subscription id unknown")
	case rc.ResourceGroup == "":
		return fmt.Errorf("resource group unknown")
	case rc.Location == "":
		return fmt.Errorf("location unknown")
	case rc.Mode == ScaleSetMember && rc.ScaleSetName == "":
		return fmt.Errorf("scale set name unknown")
	case rc.Mode == Standalone && rc.ResourceName == "":
		return fmt.Errorf("resource name unknown")
	}
	return nil
}

// ResolutionError reports that no usable ResourceContext could be produced.
type ResolutionError struct {
	Attempts int
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("imds: resolve instance context after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
