// Package js holds the scripts evaluated inside the browser. Selector
// chains live here as data so markup drift is fixed by editing strings,
// not control flow.
package js

// SelectorPresent reports whether a selector resolves.
var SelectorPresent string = `
(sel) => !!document.querySelector(sel)
`

// BodyText returns the visible page text.
var BodyText string = `
() => document.body ? document.body.innerText : ''
`

// FeedState reads the result feed, scrolls it to the bottom and returns
// the current item count together with the feed text (which carries the
// end-of-list marker when present).
var FeedState string = `
(sel) => {
    const element = document.querySelector(sel);
    if (!element) return { items: 0, endText: '', found: false };

    const items = document.querySelectorAll('div[role="feed"] > div > div[jsaction] a[href*="/maps/place/"]').length;
    const endText = element.innerText || '';
    element.scrollTop = element.scrollHeight;

    return { items: items, endText: endText, found: true };
}
`

// ItemsIncreased is a wait predicate: truthy once the feed holds more
// items than prev.
var ItemsIncreased string = `
(prev) => document.querySelectorAll('div[role="feed"] > div > div[jsaction] a[href*="/maps/place/"]').length > prev
`

// ForceScroll nudges the feed by one viewport, used by the last-chance
// recovery burst.
var ForceScroll string = `
(sel) => {
    const element = document.querySelector(sel);
    if (element) element.scrollBy(0, element.offsetHeight);
}
`

// ConsentPresent detects a consent interstitial: a button whose
// accessible label mentions accepting, or a modal dialog.
var ConsentPresent string = `
() => {
    const buttons = Array.from(document.querySelectorAll('button'));
    const hasConsentButton = buttons.some(b => {
        const label = (b.getAttribute('aria-label') || '').toLowerCase();
        return label.includes('accept') || label.includes('agree') || label.includes('consent') ||
            label.includes('akzeptieren') || label.includes('accepter') || label.includes('aceptar') ||
            label.includes('accetta') || label.includes('accepteren') || label.includes('aceitar') ||
            label.includes('zaakceptuj');
    });
    const hasModal = document.querySelector('div[aria-modal="true"]') !== null ||
        document.querySelector('div[role="dialog"]') !== null;
    return hasConsentButton || hasModal;
}
`

// ClickConsentByText clicks the last button or link whose text matches
// one of the given labels. Overlay stacks place the active banner last
// in document order, so the last match is the visible one.
var ClickConsentByText string = `
(labels) => {
    const wanted = labels.map(l => l.toLowerCase());
    const candidates = Array.from(document.querySelectorAll('button, a, div[role="button"]'));
    let target = null;
    for (const el of candidates) {
        const text = (el.innerText || el.textContent || '').trim().toLowerCase();
        if (wanted.some(w => text === w || text.startsWith(w))) target = el;
    }
    if (!target) return false;
    target.click();
    return true;
}
`

// CollectCards gathers one raw payload per result card. Classification
// of the text tokens happens on the Go side.
var CollectCards string = `
() => {
    const out = [];
    const cards = document.querySelectorAll('div[role="feed"] > div > div[jsaction]');

    cards.forEach(card => {
        const linkElement = card.querySelector('a[href*="/maps/place/"]');
        if (!linkElement) return;

        const payload = {
            name: linkElement.getAttribute('aria-label') || '',
            link: linkElement.href,
            ratingText: '',
            detailLines: [],
            links: []
        };

        const ratingSpan = card.querySelector('span[aria-label*="star"]');
        if (ratingSpan && ratingSpan.parentElement) {
            payload.ratingText = ratingSpan.parentElement.innerText || '';
        }

        let details = card.querySelector('div.fontBodyMedium');
        if (!details) details = card.querySelector('div[style*="line-height"]');
        if (!details) details = card.querySelector('div[role="button"] + div');
        if (details) {
            let divs = details.querySelectorAll(':scope > div');
            if (divs.length === 0) divs = details.querySelectorAll('*');
            divs.forEach(div => {
                const text = div.innerText;
                if (text) payload.detailLines.push(text);
            });
        }

        card.querySelectorAll('a[href^="http"]').forEach(a => {
            payload.links.push({
                href: a.href,
                label: a.getAttribute('aria-label') || '',
                itemId: a.getAttribute('data-item-id') || ''
            });
        });

        out.push(payload);
    });
    return out;
}
`

// ClickCard clicks the index-th result link, opening its detail pane.
var ClickCard string = `
(index) => {
    const links = document.querySelectorAll('div[role="feed"] > div > div[jsaction] a[href*="/maps/place/"]');
    if (!links[index]) return false;
    links[index].click();
    return true;
}
`

// DetailReady is a wait predicate for the detail pane.
var DetailReady string = `
() => !!document.querySelector('button[data-item-id="phone"], [data-item-id*="phone:tel:"], a[href^="tel:"], a[data-item-id="authority"]')
`

// DetailInfo extracts structured contact fields from a detail pane:
// data-item-id attributes first, tel: links as the phone fallback.
var DetailInfo string = `
() => {
    const info = { phone: '', website: '', address: '', owner: '' };

    const phoneEl = document.querySelector('button[data-item-id="phone"], div[data-item-id="phone"]');
    if (phoneEl) info.phone = (phoneEl.textContent || '').trim();
    if (!info.phone) {
        const tagged = document.querySelector('[data-item-id*="phone:tel:"]');
        if (tagged) {
            const m = (tagged.getAttribute('data-item-id') || '').match(/phone:tel:(.*)/i);
            if (m && m[1]) info.phone = m[1].trim();
        }
    }
    if (!info.phone) {
        const tel = document.querySelector('a[href^="tel:"]');
        if (tel) info.phone = (tel.getAttribute('href') || '').replace('tel:', '').trim();
    }

    const site = document.querySelector('a[data-item-id="authority"]');
    if (site && site.href && !site.href.includes('google.com')) info.website = site.href;

    const addr = document.querySelector('button[data-item-id="address"], div[data-item-id="address"]');
    if (addr) info.address = (addr.textContent || '').replace(/\s+/g, ' ').trim();

    const owner = document.querySelector('a[data-item-id="owner"]');
    if (owner) info.owner = owner.href;

    return info;
}
`

// HistoryBack returns from a detail pane to the results list.
var HistoryBack string = `
() => { history.back(); return true; }
`

// PageHTML returns the full document markup, parsed on the Go side.
var PageHTML string = `
() => document.documentElement ? document.documentElement.outerHTML : ''
`
