package delaytoggle

import (
	"fmt"
	"time"

	"github.com/haukened/siteblock/internal/siteblock/domain"
)

// Variant names a confirmation step of the toggle flow.
type Variant string

const (
	VariantEnable         Variant = "enable"
	VariantDisableFirst   Variant = "disable-first"
	VariantDisableWaiting Variant = "disable-waiting"
	VariantDisableReady   Variant = "disable-ready"
	VariantConfirmCancel  Variant = "confirm-cancel"
)

// Choice is what accepting or declining a dialog leads to.
type Choice string

const (
	ChoiceEnable        Choice = "enable"
	ChoiceStartDisable  Choice = "start-disable"
	ChoiceRequestCancel Choice = "request-cancel"
	ChoiceDisable       Choice = "disable"
	ChoiceCancelDisable Choice = "cancel-disable"
	ChoiceDismiss       Choice = "dismiss"
)

// Dialog describes the confirmation the user sees when touching the toggle.
type Dialog struct {
	Variant  Variant
	Message  string
	Note     string
	Accept   string
	Decline  string
	OnAccept Choice
	TimeLeft time.Duration
}

// DialogFor derives the dialog for a feature state. cancelInProgress is set
// after the user asked to cancel a running countdown and must confirm it.
func DialogFor(st Status, cancelInProgress bool) Dialog {
	switch st.State {
	case domain.FeatureDisabled:
		return Dialog{
			Variant:  VariantEnable,
			Message:  "Once enabled, you must wait 24 hours before turning this feature off.",
			Note:     "Sites can be deleted immediately within 5 minutes of being added.",
			Accept:   "enable",
			Decline:  "cancel",
			OnAccept: ChoiceEnable,
		}
	case domain.FeatureEnabledIdle:
		return Dialog{
			Variant:  VariantDisableFirst,
			Message:  "Are you sure you want to disable the delete delay? You'll need to wait 24 hours before it can be fully disabled.",
			Note:     "Sites added while this feature is enabled can be removed immediately within 5 minutes of creation.",
			Accept:   "start countdown",
			Decline:  "cancel",
			OnAccept: ChoiceStartDisable,
		}
	case domain.FeatureEnabledCounting:
		if cancelInProgress {
			return confirmCancel(st)
		}
		return Dialog{
			Variant:  VariantDisableWaiting,
			Message:  fmt.Sprintf("You must wait %d more hours before disabling this feature.", st.HoursLeft()),
			Accept:   "cancel waiting",
			Decline:  "close",
			OnAccept: ChoiceRequestCancel,
			TimeLeft: st.TimeLeft,
		}
	default:
		if cancelInProgress {
			return confirmCancel(st)
		}
		return Dialog{
			Variant:  VariantDisableReady,
			Message:  "Are you sure you want to disable the 24-hour delete delay?",
			Accept:   "yes, disable",
			Decline:  "cancel",
			OnAccept: ChoiceDisable,
		}
	}
}

func confirmCancel(st Status) Dialog {
	return Dialog{
		Variant:  VariantConfirmCancel,
		Message:  "Are you sure you want to cancel disabling this feature? The countdown will be cleared and the delete delay will remain enabled.",
		Accept:   "yes, keep enabled",
		Decline:  "keep waiting",
		OnAccept: ChoiceCancelDisable,
		TimeLeft: st.TimeLeft,
	}
}

// Apply performs the transition a dialog choice stands for.
func (s *Service) Apply(c Choice) (Status, error) {
	switch c {
	case ChoiceEnable:
		return s.Enable()
	case ChoiceStartDisable:
		return s.StartDisable()
	case ChoiceDisable:
		return s.Disable()
	case ChoiceCancelDisable:
		return s.CancelDisable()
	default:
		return s.Status()
	}
}
