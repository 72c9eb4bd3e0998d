// Package imds talks to the Azure Instance Metadata Service.
//
// Client performs single requests: Compute reads the instance identity and
// Token fetches a managed identity access token for an audience. Every
// request carries the "Metadata: true" header and its own timeout.
//
// Resolver turns the compute document into a ResourceContext. A VM that
// reports a vmScaleSetName is a ScaleSetMember and metrics target the scale
// set; otherwise it is Standalone and metrics target the VM. Statically
// configured identity fields override what the service reports and stand in
// for it when it cannot be reached. The result is cached until Invalidate.
package imds
