package enums

// TotalChangeCause explains why a total_changed event was emitted.
type TotalChangeCause string

const (
	CausePaymentConfirmed    TotalChangeCause = "payment confirmed"
	CauseVehicleSold         TotalChangeCause = "vehicle sold"
	CauseVehicleSaleReversed TotalChangeCause = "vehicle sale reversed"
)

func (c TotalChangeCause) IsValid() bool {
	switch c {
	case CausePaymentConfirmed, CauseVehicleSold, CauseVehicleSaleReversed:
		return true
	}
	return false
}
