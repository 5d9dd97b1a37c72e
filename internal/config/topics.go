package config

const (
	// TopicProvisionTask nudges the processor to run a cycle after enqueue,
	// so a fresh job does not wait for the next periodic tick.
	TopicProvisionTask = "billing.provision"

	// TopicProvisioned carries best-effort audit events for completed jobs.
	TopicProvisioned = "billing.provisioned"

	// TopicRefunded carries best-effort audit events for issued refunds.
	TopicRefunded = "billing.refunded"
)
