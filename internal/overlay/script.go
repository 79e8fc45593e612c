package overlay

import (
	"strconv"
	"sync"
	"time"

	"github.com/neurosense/decoder/internal/bridge"
)

// Built scripts are cached per timeout. A daemon runs with one timeout for
// its lifetime, so in practice this holds a single entry.
var scriptCache sync.Map // time.Duration -> string

// BootstrapScript returns the JavaScript injected into proxied pages. The
// script runs in the host page but keeps all UI inside a shadow root so host
// styles cannot leak in and overlay styles cannot leak out. It reports raw
// DOM-change snapshots upstream and only mounts the overlay when told to;
// the mount decision lives on the privileged side.
//
// The timeout bounds each page-side request; zero means the protocol default.
func BootstrapScript(timeout time.Duration) string {
	if timeout <= 0 {
		timeout = bridge.DefaultRequestTimeout
	}
	if cached, ok := scriptCache.Load(timeout); ok {
		return cached.(string)
	}
	script := generateBootstrapScript(timeout)
	scriptCache.Store(timeout, script)
	return script
}

func generateBootstrapScript(timeout time.Duration) string {
	return `
<script>
(function() {
  'use strict';

  var HOST_ID = '` + HostElementID + `';
  var WS_PATH = '` + SocketPath + `';
  var REQUEST_TIMEOUT_MS = ` + strconv.FormatInt(timeout.Milliseconds(), 10) + `;
  var MAX_RECONNECT_ATTEMPTS = 5;

  var ws = null;
  var reconnectAttempts = 0;
  var pending = {};
  var nextFallbackId = 1;
  var ui = null;
  var targetLanguage = 'en';

  function newId() {
    if (window.crypto && window.crypto.randomUUID) {
      return window.crypto.randomUUID();
    }
    return 'req-' + Date.now() + '-' + (nextFallbackId++);
  }

  // ------------------------------------------------------------------
  // Transport: request/reply correlated by id, plus fire-and-forget
  // snapshot events. Every request settles exactly once, by reply or
  // by local timeout.
  // ------------------------------------------------------------------

  function connect() {
    var protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
    try {
      ws = new WebSocket(protocol + '//' + window.location.host + WS_PATH);
    } catch (err) {
      console.error('[decoder] websocket unavailable:', err);
      return;
    }

    ws.onopen = function() {
      reconnectAttempts = 0;
      sendSnapshot();
    };

    ws.onmessage = function(event) {
      var msg;
      try {
        msg = JSON.parse(event.data);
      } catch (err) {
        console.error('[decoder] unparseable message:', err);
        return;
      }
      if (msg.id && pending[msg.id]) {
        var entry = pending[msg.id];
        delete pending[msg.id];
        clearTimeout(entry.timer);
        entry.resolve(msg);
        return;
      }
      if (msg.type === 'mount') {
        mountOverlay();
      } else if (msg.type === 'landingMark') {
        document.documentElement.setAttribute('data-decoder-installed', 'true');
      }
    };

    ws.onclose = function() {
      if (reconnectAttempts < MAX_RECONNECT_ATTEMPTS) {
        reconnectAttempts++;
        setTimeout(connect, 1000 * reconnectAttempts);
      }
    };
  }

  function request(fields) {
    return new Promise(function(resolve) {
      var id = newId();
      fields.id = id;
      var timer = setTimeout(function() {
        if (pending[id]) {
          delete pending[id];
          resolve({ id: id, success: false, error: 'request timed out' });
        }
      }, REQUEST_TIMEOUT_MS);
      pending[id] = { resolve: resolve, timer: timer };
      if (!ws || ws.readyState !== WebSocket.OPEN) {
        delete pending[id];
        clearTimeout(timer);
        resolve({ id: id, success: false, error: 'not connected' });
        return;
      }
      ws.send(JSON.stringify(fields));
    });
  }

  function sendEvent(evt) {
    if (ws && ws.readyState === WebSocket.OPEN) {
      ws.send(JSON.stringify(evt));
    }
  }

  // The language preference is read once at mount and kept; changing it
  // elsewhere takes effect on the next page load.
  function refreshLanguage() {
    request({ action: 'GET_LANGUAGE', text: '', useDeepMode: false, targetLanguage: '' })
      .then(function(reply) {
        if (reply.success && reply.language) {
          targetLanguage = reply.language;
        }
      });
  }

  // ------------------------------------------------------------------
  // Snapshot reporting. The marker names must match the privileged
  // side's presence probes.
  // ------------------------------------------------------------------

  function composeBoxElement() {
    return document.querySelector('footer div[contenteditable="true"]') ||
      document.querySelector('div[role="textbox"][contenteditable="true"]');
  }

  function sendSnapshot() {
    sendEvent({
      type: 'mutation',
      host: window.location.hostname,
      path: window.location.pathname,
      markers: {
        composeBox: !!composeBoxElement(),
        conversationPane: !!(document.querySelector('div[role="dialog"]') ||
          document.querySelector('section main'))
      }
    });
  }

  function watchDocument() {
    var observer = new MutationObserver(sendSnapshot);
    observer.observe(document.documentElement, { childList: true, subtree: true });
  }

  // ------------------------------------------------------------------
  // Overlay. Mounting is idempotent by host element id; there is no
  // unmount. All styling lives inside the shadow root.
  // ------------------------------------------------------------------

  var PANEL_CSS =
    ':host { all: initial; }' +
    '* { box-sizing: border-box; font-family: -apple-system, "Segoe UI", sans-serif; }' +
    '.bubble { position: absolute; top: 40%; right: 8px; width: 44px; height: 44px;' +
    '  border-radius: 50%; background: #4f46e5; color: #fff; border: none;' +
    '  cursor: pointer; pointer-events: auto; font-size: 20px; }' +
    '.panel { position: absolute; top: 0; right: 0; width: 340px; height: 100%;' +
    '  background: #fff; box-shadow: -2px 0 12px rgba(0,0,0,.25); display: none;' +
    '  flex-direction: column; gap: 8px; padding: 12px; pointer-events: auto; }' +
    '.panel.open { display: flex; }' +
    'textarea { width: 100%; min-height: 72px; resize: vertical; }' +
    'button.action { padding: 6px 10px; cursor: pointer; }' +
    '.risk-Safe { color: #16a34a; } .risk-Caution { color: #d97706; }' +
    '.risk-Conflict { color: #dc2626; }' +
    '.error { color: #dc2626; font-size: 13px; }' +
    '.replies button { display: block; width: 100%; text-align: left; margin-top: 4px; }';

  function mountOverlay() {
    if (document.getElementById(HOST_ID)) {
      return;
    }
    var host = document.createElement('div');
    host.id = HOST_ID;
    host.style.cssText = 'position: fixed; top: 0; right: 0; width: 0; height: 100%;' +
      'z-index: 2147483647; pointer-events: none;';
    var root = host.attachShadow({ mode: 'open' });

    var style = document.createElement('style');
    style.textContent = PANEL_CSS;
    root.appendChild(style);

    var bubble = document.createElement('button');
    bubble.className = 'bubble';
    bubble.textContent = '◀';
    root.appendChild(bubble);

    var panel = document.createElement('div');
    panel.className = 'panel';
    panel.innerHTML =
      '<textarea placeholder="Paste the message to decode"></textarea>' +
      '<label><input type="checkbox" class="deep"> Deep analysis</label>' +
      '<div>' +
      '  <button class="action analyze">Decode</button>' +
      '  <button class="action quick" data-quick="` + string(QuickSarcasm) + `">Sarcasm?</button>' +
      '  <button class="action quick" data-quick="` + string(QuickActionItems) + `">Action items</button>' +
      '  <button class="action quick" data-quick="` + string(QuickExplain) + `">Explain</button>' +
      '</div>' +
      '<div class="status"></div>' +
      '<div class="result"></div>';
    root.appendChild(panel);

    ui = {
      panel: panel,
      textarea: panel.querySelector('textarea'),
      deep: panel.querySelector('.deep'),
      status: panel.querySelector('.status'),
      result: panel.querySelector('.result'),
      busy: false
    };

    bubble.addEventListener('click', function() {
      panel.classList.toggle('open');
      sendEvent({ type: 'toggle' });
    });
    panel.querySelector('.analyze').addEventListener('click', function() {
      runAnalysis(ui.textarea.value, ui.deep.checked);
    });
    var quicks = panel.querySelectorAll('.quick');
    for (var i = 0; i < quicks.length; i++) {
      quicks[i].addEventListener('click', function(e) {
        var instruction = quickInstruction(e.target.getAttribute('data-quick'));
        runAnalysis(ui.textarea.value + '\n\n' + instruction, true);
      });
    }

    (document.body || document.documentElement).appendChild(host);
    refreshLanguage();
  }

  function quickInstruction(kind) {
    if (kind === '` + string(QuickSarcasm) + `') {
      return '` + QuickSarcasm.Instruction() + `';
    }
    if (kind === '` + string(QuickActionItems) + `') {
      return '` + QuickActionItems.Instruction() + `';
    }
    return '` + QuickExplain.Instruction() + `';
  }

  function runAnalysis(text, deep) {
    if (!ui || ui.busy) {
      return;
    }
    if (!text || !text.trim()) {
      ui.status.textContent = 'Nothing to decode yet.';
      return;
    }
    ui.busy = true;
    ui.status.textContent = 'Decoding…';
    ui.result.innerHTML = '';

    request({
      action: 'ANALYZE_TEXT',
      text: text,
      useDeepMode: !!deep,
      targetLanguage: targetLanguage
    }).then(function(reply) {
      ui.busy = false;
      if (!reply.success || !reply.data) {
        ui.status.textContent = '` + GenericErrorMessage + `';
        console.warn('[decoder] analysis failed:', reply.error);
        return;
      }
      ui.status.textContent = '';
      renderResult(reply.data);
    });
  }

  function renderResult(data) {
    var risk = document.createElement('div');
    risk.className = 'risk-' + data.riskLevel;
    risk.textContent = data.riskLevel + ' · ' + data.confidenceScore + '%';
    ui.result.appendChild(risk);

    var literal = document.createElement('p');
    literal.textContent = data.literalMeaning;
    ui.result.appendChild(literal);

    var subtext = document.createElement('p');
    subtext.textContent = data.emotionalSubtext;
    ui.result.appendChild(subtext);

    var replies = document.createElement('div');
    replies.className = 'replies';
    (data.suggestedReplies || []).forEach(function(text) {
      var btn = document.createElement('button');
      btn.textContent = text;
      btn.addEventListener('click', function() {
        if (!insertIntoComposeBox(text)) {
          console.warn('[decoder] could not find a compose box to insert into');
        }
      });
      replies.appendChild(btn);
    });
    ui.result.appendChild(replies);
  }

  function insertIntoComposeBox(text) {
    var box = composeBoxElement();
    if (!box) {
      return false;
    }
    try {
      box.focus();
      document.execCommand('insertText', false, text);
      return true;
    } catch (err) {
      console.warn('[decoder] insert failed:', err);
      return false;
    }
  }

  connect();
  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', watchDocument);
  } else {
    watchDocument();
  }
})();
</script>
`
}
