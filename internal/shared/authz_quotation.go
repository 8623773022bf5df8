package shared

// Capabilities granted through roles for the quotation workflow.
const (
	PermRFQCreate  = "rfq.create"
	PermRFQApprove = "rfq.approve"

	PermQuotationCreate  = "quotation.create"
	PermQuotationViewAll = "quotation.view_all"
	PermQuotationManage  = "quotation.manage"

	PermJobsView = "jobs.view"
)

// QuotationScopes lists every capability known to the workflow.
func QuotationScopes() []string {
	return []string{
		PermRFQCreate,
		PermRFQApprove,
		PermQuotationCreate,
		PermQuotationViewAll,
		PermQuotationManage,
		PermJobsView,
	}
}
