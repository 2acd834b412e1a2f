// Subscription and pull-notification operation handlers (spec §4.7),
// grounded on the teacher's internal/store/subscription.go event
// vocabulary and internal/server/ipp.go's Get-Notifications long-poll
// shape, generalized to internal/events' in-memory ring buffer.
package dispatch

import (
	"io"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/events"
	"github.com/thilo-hub/ippsample/internal/model"
)

func init() {
	register(goipp.OpCreatePrinterSubscriptions, handleCreateSubscriptions)
	register(goipp.OpCreateJobSubscriptions, handleCreateSubscriptions)
	register(goipp.OpCreateResourceSubscriptions, handleCreateSubscriptions)
	register(goipp.OpCreateSystemSubscriptions, handleCreateSubscriptions)
	register(goipp.OpGetSubscriptionAttributes, handleGetSubscriptionAttributes)
	register(goipp.OpGetSubscriptions, handleGetSubscriptions)
	register(goipp.OpRenewSubscription, handleRenewSubscription)
	register(goipp.OpCancelSubscription, handleCancelSubscription)
	register(goipp.OpGetNotifications, handleGetNotifications)
}

// subscriptionTemplates returns each Subscription-tagged attribute
// group in the request, in wire order (spec §4.7: "one request may
// create several subscriptions, one per subscription-template group").
func subscriptionTemplates(req *goipp.Message) []goipp.Attributes {
	var out []goipp.Attributes
	for _, g := range req.Groups {
		if g.Tag == goipp.TagSubscriptionGroup {
			out = append(out, g.Attrs)
		}
	}
	if len(out) == 0 && len(req.Subscription) > 0 {
		out = append(out, req.Subscription)
	}
	return out
}

func handleCreateSubscriptions(c *Context) io.Reader {
	if c.Target.printer == nil && !c.Target.system {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	templates := subscriptionTemplates(c.Req)
	if len(templates) == 0 {
		c.Resp.Code = goipp.Code(goipp.StatusErrorBadRequest)
		return nil
	}

	username := requestingUsername(c)
	var groups goipp.Groups
	for _, tmpl := range templates {
		notifyEvents := attr.Values(tmpl, "notify-events")
		if len(notifyEvents) == 0 {
			notifyEvents = []string{"job-completed", "job-state-changed"}
		}
		sub := &model.Subscription{
			Printer:          c.Target.printer,
			Job:              c.Target.job,
			Username:         username,
			Events:           events.MaskFromKeywords(notifyEvents),
			NotifyAttributes: attr.Values(tmpl, "notify-attributes"),
			Charset:          attr.String(tmpl, "notify-charset"),
			Language:         attr.String(tmpl, "notify-natural-language"),
			PullMethod:       "ippget",
			LeaseSeconds:     attr.Int(tmpl, "notify-lease-duration", 86400),
			TimeInterval:     attr.Int(tmpl, "notify-time-interval", 0),
			RingCap:          c.Server.Config.MaxEvents,
		}
		if c.Target.job != nil {
			sub.Owner = "job"
		} else if c.Target.printer != nil {
			sub.Owner = "printer"
		} else {
			sub.Owner = "system"
		}
		if sub.LeaseSeconds > 0 {
			sub.Expire = time.Now().Add(time.Duration(sub.LeaseSeconds) * time.Second)
		}
		c.Server.Registry.AddSubscription(sub)
		groups.Add(goipp.Group{Tag: goipp.TagSubscriptionGroup, Attrs: subscriptionResponseAttrs(sub)})
	}
	c.Resp.Groups = groups
	return nil
}

func subscriptionResponseAttrs(s *model.Subscription) goipp.Attributes {
	s.RWLock.RLock()
	defer s.RWLock.RUnlock()
	out := goipp.Attributes{
		goipp.MakeAttribute("notify-subscription-id", goipp.TagInteger, goipp.Integer(s.ID)),
		goipp.MakeAttribute("notify-lease-duration", goipp.TagInteger, goipp.Integer(s.LeaseSeconds)),
		goipp.MakeAttribute("notify-pull-method", goipp.TagKeyword, goipp.String(s.PullMethod)),
	}
	if s.Printer != nil {
		out.Add(goipp.MakeAttribute("notify-printer-uri", goipp.TagURI, goipp.String(s.Printer.ResourcePath)))
	}
	return out
}

func handleGetSubscriptionAttributes(c *Context) io.Reader {
	id := attr.Int(c.Req.Operation, "notify-subscription-id", -1)
	sub, ok := c.Server.Registry.Subscription(id)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	c.Resp.Subscription = subscriptionResponseAttrs(sub)
	return nil
}

func handleGetSubscriptions(c *Context) io.Reader {
	var groups goipp.Groups
	for _, s := range c.Server.Registry.Subscriptions() {
		s.RWLock.RLock()
		matches := (c.Target.printer == nil || s.Printer == c.Target.printer) &&
			(c.Target.job == nil || s.Job == c.Target.job)
		s.RWLock.RUnlock()
		if !matches {
			continue
		}
		groups.Add(goipp.Group{Tag: goipp.TagSubscriptionGroup, Attrs: subscriptionResponseAttrs(s)})
	}
	c.Resp.Groups = groups
	return nil
}

func handleRenewSubscription(c *Context) io.Reader {
	id := attr.Int(c.Req.Operation, "notify-subscription-id", -1)
	sub, ok := c.Server.Registry.Subscription(id)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	lease := attr.Int(c.Req.Operation, "notify-lease-duration", 86400)
	sub.RWLock.Lock()
	sub.LeaseSeconds = lease
	if lease > 0 {
		sub.Expire = time.Now().Add(time.Duration(lease) * time.Second)
	} else {
		sub.Expire = time.Time{}
	}
	sub.RWLock.Unlock()
	return nil
}

func handleCancelSubscription(c *Context) io.Reader {
	id := attr.Int(c.Req.Operation, "notify-subscription-id", -1)
	if _, ok := c.Server.Registry.Subscription(id); !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	c.Server.Registry.DeleteSubscription(id)
	return nil
}

// handleGetNotifications implements the ippget long-poll: given
// parallel notify-subscription-ids/notify-sequence-numbers, it returns
// every event with sequence >= the matching floor for each
// subscription (spec §4.7), waiting at most events.WaitBound for new
// events to arrive first, but only when the client asked to
// (notify-wait=true).
func handleGetNotifications(c *Context) io.Reader {
	ids := intValues(c.Req.Operation, "notify-subscription-ids")
	if len(ids) == 0 {
		if id := attr.Int(c.Req.Operation, "notify-subscription-ids", -1); id >= 0 {
			ids = []int{id}
		}
	}
	seqs := intValues(c.Req.Operation, "notify-sequence-numbers")

	subs := make([]*model.Subscription, 0, len(ids))
	floors := make([]int, 0, len(ids))
	for i, id := range ids {
		s, ok := c.Server.Registry.Subscription(id)
		if !ok {
			continue
		}
		floor := s.FirstSequence
		if i < len(seqs) {
			floor = seqs[i]
		}
		subs = append(subs, s)
		floors = append(floors, floor)
	}
	if len(subs) == 0 {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}

	if attr.Bool(c.Req.Operation, "notify-wait", false) && !anyPending(subs) && c.Server.Events != nil {
		c.Server.Events.Wait()
	}

	var groups goipp.Groups
	for i, s := range subs {
		s.RWLock.Lock()
		evs := events.EventsSince(s, floors[i])
		s.RWLock.Unlock()
		for _, ev := range evs {
			groups.Add(goipp.Group{Tag: goipp.TagEventNotificationGroup, Attrs: eventAttrs(s, ev)})
		}
	}
	c.Resp.Groups = groups
	return nil
}

func anyPending(subs []*model.Subscription) bool {
	for _, s := range subs {
		s.RWLock.RLock()
		pending := len(s.Ring) > 0
		s.RWLock.RUnlock()
		if pending {
			return true
		}
	}
	return false
}

func eventAttrs(s *model.Subscription, ev model.Event) goipp.Attributes {
	out := goipp.Attributes{
		goipp.MakeAttribute("notify-subscription-id", goipp.TagInteger, goipp.Integer(s.ID)),
		goipp.MakeAttribute("notify-sequence-number", goipp.TagInteger, goipp.Integer(ev.Sequence)),
		goipp.MakeAttribute("notify-subscribed-event", goipp.TagKeyword, goipp.String(ev.EventName)),
	}
	if ev.Job != nil {
		out.Add(goipp.MakeAttribute("notify-job-id", goipp.TagInteger, goipp.Integer(ev.Job.ID)))
	}
	if ev.Printer != nil {
		out.Add(goipp.MakeAttribute("notify-printer-uri", goipp.TagURI, goipp.String(ev.Printer.ResourcePath)))
	}
	return out
}

func intValues(attrs goipp.Attributes, name string) []int {
	strs := attr.Values(attrs, name)
	out := make([]int, 0, len(strs))
	for _, s := range strs {
		n := 0
		neg := false
		for i, r := range s {
			if i == 0 && r == '-' {
				neg = true
				continue
			}
			if r < '0' || r > '9' {
				n = -1
				break
			}
			n = n*10 + int(r-'0')
		}
		if n >= 0 {
			if neg {
				n = -n
			}
			out = append(out, n)
		}
	}
	return out
}
