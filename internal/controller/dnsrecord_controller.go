package controller

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/retry"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	dnsv1 "github.com/yuriy-kovalchuk/yk-dns-sync/api/v1"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
)

// DNSRecordReconciler reconciles DNSRecord objects against the provider.
type DNSRecordReconciler struct {
	client.Client
	Log    logr.Logger
	Engine *reconcile.Reconciler
	Policy reconcile.RequeuePolicy
	// Claims resolves identities shared with other objects. When nil only
	// other DNSRecords are consulted.
	Claims *Claims

	MaxConcurrentReconciles int
}

// Reconcile runs one pass for a DNSRecord and records the outcome in its
// status. Engine failures are reported through status and the failure requeue
// delay, never as a returned error.
func (r *DNSRecordReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	var obj dnsv1.DNSRecord
	if err := r.Get(ctx, req.NamespacedName, &obj); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	// The provider record is left in place when the object goes away.
	if !obj.DeletionTimestamp.IsZero() {
		r.Log.V(1).Info("DNSRecord is being deleted, nothing to do", "name", req.NamespacedName)
		return ctrl.Result{}, nil
	}

	desired := obj.Record()
	log := r.Log.WithValues("name", req.NamespacedName, "record", desired.Key().String())

	var res reconcile.Result
	owners, err := r.claims().OlderOwners(ctx, claimantOf(kindDNSRecord, &obj), []dns.Key{desired.Key()})
	if err != nil {
		return ctrl.Result{}, err
	}
	if owner, ok := owners[desired.Key()]; ok {
		log.Info("record already claimed by another object", "owner", owner.String())
		res = reconcile.Result{
			Outcome: reconcile.Failed,
			Record:  desired,
			Err:     fmt.Errorf("ConfigurationError: record %s is already managed by %s", desired.Key(), owner),
		}
	} else {
		res = r.Engine.Reconcile(ctx, desired)
	}

	if err := r.writeStatus(ctx, req, obj.Generation, res); err != nil {
		return ctrl.Result{}, fmt.Errorf("updating DNSRecord status: %w", err)
	}

	return ctrl.Result{RequeueAfter: r.Policy.After(res.Outcome)}, nil
}

func (r *DNSRecordReconciler) claims() *Claims {
	if r.Claims != nil {
		return r.Claims
	}
	return &Claims{Reader: r.Client}
}

func (r *DNSRecordReconciler) writeStatus(ctx context.Context, req ctrl.Request, generation int64, res reconcile.Result) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var obj dnsv1.DNSRecord
		if err := r.Get(ctx, req.NamespacedName, &obj); err != nil {
			return client.IgnoreNotFound(err)
		}

		now := metav1.Now()
		obj.Status.Outcome = res.Outcome.String()
		obj.Status.ObservedGeneration = generation
		obj.Status.LastReconcileTime = &now
		obj.Status.Message = ""
		if res.Err != nil {
			obj.Status.Message = res.Err.Error()
		}
		if res.Outcome != reconcile.Failed {
			obj.Status.RecordID = res.Record.ID
			obj.Status.Content = res.Record.Content
		}
		return r.Status().Update(ctx, &obj)
	})
}

func (r *DNSRecordReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&dnsv1.DNSRecord{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}
